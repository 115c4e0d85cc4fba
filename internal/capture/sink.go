package capture

import (
	"fmt"
	"time"

	"github.com/banshee-data/fusion.capture/internal/protocol"
)

// TableSink receives telemetry rows.
type TableSink interface {
	AppendTelemetry(rec protocol.TelemetryRecord) error
}

// BlobSink stores frame payloads. It returns a name for the stored blob that
// is used in log lines.
type BlobSink interface {
	WriteFrame(frame protocol.BinaryFrame) (string, error)
}

// EventSink records control markers and framing errors.
type EventSink interface {
	RecordEvent(ev Event) error
}

// Sinks routes session output. Nil members are skipped.
type Sinks struct {
	Table  TableSink
	Blobs  BlobSink
	Events EventSink
}

// Event types written to an EventSink.
const (
	EventControl      = "control"
	EventFramingError = "framing_error"
)

// Event is a control marker or framing diagnostic.
type Event struct {
	At     time.Time
	Type   string
	Kind   string
	Detail string
}

// SinkError reports a failed sink write. The unit is skipped and not counted.
type SinkError struct {
	Sink string
	Unit string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("%s sink: %s: %v", e.Sink, e.Unit, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
