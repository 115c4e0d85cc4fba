// Package sink holds the file-backed capture outputs: a CSV telemetry table
// and a directory of frame blobs, plus helpers to compose them with the
// sqlite store.
package sink

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/banshee-data/fusion.capture/internal/fsutil"
	"github.com/banshee-data/fusion.capture/internal/protocol"
)

// CSVHeader is the first row of every telemetry table.
var CSVHeader = []string{"timestamps_ms", "ax_raw", "ay_raw", "az_raw", "gx_raw", "gy_raw", "gz_raw"}

// CSVTable appends telemetry rows to a CSV file. Rows are flushed as they are
// written so the file stays readable while a capture is running.
type CSVTable struct {
	mu   sync.Mutex
	path string
	f    io.WriteCloser
	w    *csv.Writer
	rows int
}

// NewCSVTable creates (or truncates) path, making parent directories as
// needed, and writes the header row.
func NewCSVTable(fs fsutil.FileSystem, path string) (*CSVTable, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create table directory: %w", err)
	}
	f, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create telemetry table: %w", err)
	}
	t := &CSVTable{path: path, f: f, w: csv.NewWriter(f)}
	if err := t.write(CSVHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write table header: %w", err)
	}
	return t, nil
}

// Path returns the file the table writes to.
func (t *CSVTable) Path() string { return t.path }

// AppendTelemetry writes one row and flushes it to the file.
func (t *CSVTable) AppendTelemetry(rec protocol.TelemetryRecord) error {
	row := make([]string, 0, len(CSVHeader))
	row = append(row, strconv.FormatInt(rec.Timestamp, 10))
	for _, v := range rec.Channels() {
		row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return fmt.Errorf("telemetry table %s is closed", t.path)
	}
	if err := t.write(row); err != nil {
		return err
	}
	t.rows++
	return nil
}

// Rows returns the number of telemetry rows written, excluding the header.
func (t *CSVTable) Rows() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rows
}

// Close flushes and closes the file.
func (t *CSVTable) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return nil
	}
	t.w.Flush()
	err := t.w.Error()
	if cerr := t.f.Close(); err == nil {
		err = cerr
	}
	t.f = nil
	return err
}

func (t *CSVTable) write(row []string) error {
	if err := t.w.Write(row); err != nil {
		return err
	}
	t.w.Flush()
	return t.w.Error()
}
