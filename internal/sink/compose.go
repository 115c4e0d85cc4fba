package sink

import (
	"errors"
	"fmt"

	"github.com/banshee-data/fusion.capture/internal/capture"
	"github.com/banshee-data/fusion.capture/internal/monitoring"
	"github.com/banshee-data/fusion.capture/internal/protocol"
)

// Tee fans telemetry rows out to every table. All tables are written even if
// one fails; the failures are joined. Rows already written to the healthy
// tables are kept.
func Tee(tables ...capture.TableSink) capture.TableSink {
	var live []capture.TableSink
	for _, t := range tables {
		if t != nil {
			live = append(live, t)
		}
	}
	if len(live) == 1 {
		return live[0]
	}
	return teeTable(live)
}

type teeTable []capture.TableSink

func (t teeTable) AppendTelemetry(rec protocol.TelemetryRecord) error {
	var errs []error
	for _, table := range t {
		if err := table.AppendTelemetry(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FrameIndexer records where a frame was stored.
type FrameIndexer interface {
	IndexFrame(frame protocol.BinaryFrame, location string) error
}

// FrameRemover deletes a stored frame by the location WriteFrame returned.
type FrameRemover interface {
	RemoveFrame(location string) error
}

// IndexedFrames saves frames to blobs and then records them in index. When
// indexing fails the stored frame is removed again if blobs is a
// FrameRemover, so no unindexed file is left behind. A nil index returns
// blobs unchanged.
func IndexedFrames(blobs capture.BlobSink, index FrameIndexer) capture.BlobSink {
	if index == nil {
		return blobs
	}
	return &indexedFrames{blobs: blobs, index: index}
}

type indexedFrames struct {
	blobs capture.BlobSink
	index FrameIndexer
}

func (f *indexedFrames) WriteFrame(frame protocol.BinaryFrame) (string, error) {
	location := ""
	if f.blobs != nil {
		var err error
		location, err = f.blobs.WriteFrame(frame)
		if err != nil {
			return "", err
		}
	}
	if err := f.index.IndexFrame(frame, location); err != nil {
		if r, ok := f.blobs.(FrameRemover); ok && location != "" {
			if rerr := r.RemoveFrame(location); rerr != nil {
				monitoring.Logf("failed to remove unindexed frame %s: %v", location, rerr)
			}
		}
		return "", fmt.Errorf("index frame %d: %w", frame.SequenceIndex, err)
	}
	return location, nil
}
