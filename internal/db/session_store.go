package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/fusion.capture/internal/capture"
	"github.com/banshee-data/fusion.capture/internal/protocol"
)

// ErrSessionFinished is returned by writes after Finish.
var ErrSessionFinished = errors.New("capture session already finished")

// SessionInfo describes a capture run when it starts.
type SessionInfo struct {
	ID        string
	Variant   string
	Port      string
	StartedAt time.Time
}

// SessionRecord is a row of the sessions table.
type SessionRecord struct {
	ID            string    `json:"session_id"`
	Variant       string    `json:"variant"`
	Port          string    `json:"port"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at,omitzero"`
	Telemetry     int       `json:"telemetry_count"`
	Frames        int       `json:"frame_count"`
	FramingErrors int       `json:"framing_errors"`
	SinkErrors    int       `json:"sink_errors"`
	Summary       string    `json:"summary"`
}

// FrameRecord is an entry of the frame index.
type FrameRecord struct {
	SessionID     string `json:"session_id"`
	SequenceIndex int    `json:"sequence_index"`
	Timestamp     int64  `json:"timestamp_ms"`
	SizeBytes     int    `json:"size_bytes"`
	Location      string `json:"location"`
	SHA256        string `json:"sha256"`
}

// SessionStore writes one session's output. It serves as the telemetry
// table, frame index and event sink of a capture.Session and is not safe for
// concurrent use.
type SessionStore struct {
	db       *DB
	id       string
	seq      int64
	finished bool
}

var (
	_ capture.TableSink = (*SessionStore)(nil)
	_ capture.EventSink = (*SessionStore)(nil)
)

// StartSession inserts the session row. An empty ID is replaced with a new
// UUID and a zero StartedAt with the current time.
func (db *DB) StartSession(info SessionInfo) (*SessionStore, error) {
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, variant, port, started_at) VALUES (?, ?, ?, ?)`,
		info.ID, info.Variant, info.Port, info.StartedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("start session %s: %w", info.ID, err)
	}
	return &SessionStore{db: db, id: info.ID}, nil
}

// ID returns the session id the store writes under.
func (s *SessionStore) ID() string { return s.id }

// AppendTelemetry inserts one sample. Samples are numbered in arrival order.
func (s *SessionStore) AppendTelemetry(rec protocol.TelemetryRecord) error {
	if s.finished {
		return ErrSessionFinished
	}
	_, err := s.db.Exec(
		`INSERT INTO telemetry (session_id, seq, timestamp_ms, ax, ay, az, gx, gy, gz)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.id, s.seq, rec.Timestamp,
		rec.Accel[0], rec.Accel[1], rec.Accel[2],
		rec.Gyro[0], rec.Gyro[1], rec.Gyro[2],
	)
	if err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}
	s.seq++
	return nil
}

// IndexFrame records where a frame's payload was stored along with its
// SHA-256 digest.
func (s *SessionStore) IndexFrame(frame protocol.BinaryFrame, location string) error {
	if s.finished {
		return ErrSessionFinished
	}
	sum := sha256.Sum256(frame.Payload)
	_, err := s.db.Exec(
		`INSERT INTO frames (session_id, sequence_index, timestamp_ms, size_bytes, location, sha256)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.id, frame.SequenceIndex, frame.Header.Timestamp, len(frame.Payload), location, hex.EncodeToString(sum[:]),
	)
	if err != nil {
		return fmt.Errorf("index frame %d: %w", frame.SequenceIndex, err)
	}
	return nil
}

// RecordEvent appends a control marker or framing diagnostic to the log.
func (s *SessionStore) RecordEvent(ev capture.Event) error {
	if s.finished {
		return ErrSessionFinished
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO events (session_id, at_ms, type, kind, detail) VALUES (?, ?, ?, ?, ?)`,
		s.id, at.UnixMilli(), ev.Type, ev.Kind, ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("record %s event: %w", ev.Type, err)
	}
	return nil
}

// Finish stores the final counters and summary line. Later writes fail with
// ErrSessionFinished.
func (s *SessionStore) Finish(st capture.Stats, endedAt time.Time) error {
	if s.finished {
		return ErrSessionFinished
	}
	if endedAt.IsZero() {
		endedAt = time.Now()
	}
	_, err := s.db.Exec(
		`UPDATE sessions
		 SET ended_at = ?, telemetry_count = ?, frame_count = ?, framing_errors = ?, sink_errors = ?, summary = ?
		 WHERE session_id = ?`,
		endedAt.UnixMilli(), st.Telemetry, st.Frames, st.TotalFramingErrors(), st.SinkErrors, st.String(), s.id,
	)
	if err != nil {
		return fmt.Errorf("finish session %s: %w", s.id, err)
	}
	s.finished = true
	return nil
}

// Sessions lists every stored session, most recent first.
func (db *DB) Sessions() ([]SessionRecord, error) {
	rows, err := db.Query(`
		SELECT session_id, variant, port, started_at, ended_at,
		       telemetry_count, frame_count, framing_errors, sink_errors, summary
		FROM sessions
		ORDER BY started_at DESC, session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		var (
			r       SessionRecord
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Variant, &r.Port, &started, &ended,
			&r.Telemetry, &r.Frames, &r.FramingErrors, &r.SinkErrors, &r.Summary); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			r.EndedAt = time.UnixMilli(ended.Int64)
		}
		sessions = append(sessions, r)
	}
	return sessions, rows.Err()
}

// Telemetry returns a session's samples in arrival order.
func (db *DB) Telemetry(sessionID string) ([]protocol.TelemetryRecord, error) {
	rows, err := db.Query(`
		SELECT timestamp_ms, ax, ay, az, gx, gy, gz
		FROM telemetry
		WHERE session_id = ?
		ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []protocol.TelemetryRecord
	for rows.Next() {
		var r protocol.TelemetryRecord
		if err := rows.Scan(&r.Timestamp, &r.Accel[0], &r.Accel[1], &r.Accel[2],
			&r.Gyro[0], &r.Gyro[1], &r.Gyro[2]); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Frames returns a session's frame index ordered by sequence index.
func (db *DB) Frames(sessionID string) ([]FrameRecord, error) {
	rows, err := db.Query(`
		SELECT session_id, sequence_index, timestamp_ms, size_bytes, location, sha256
		FROM frames
		WHERE session_id = ?
		ORDER BY sequence_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []FrameRecord
	for rows.Next() {
		var f FrameRecord
		if err := rows.Scan(&f.SessionID, &f.SequenceIndex, &f.Timestamp, &f.SizeBytes, &f.Location, &f.SHA256); err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// Events returns a session's event log in the order it was written.
func (db *DB) Events(sessionID string) ([]capture.Event, error) {
	rows, err := db.Query(`
		SELECT at_ms, type, kind, detail
		FROM events
		WHERE session_id = ?
		ORDER BY event_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []capture.Event
	for rows.Next() {
		var (
			ev capture.Event
			at int64
		)
		if err := rows.Scan(&at, &ev.Type, &ev.Kind, &ev.Detail); err != nil {
			return nil, err
		}
		ev.At = time.UnixMilli(at)
		events = append(events, ev)
	}
	return events, rows.Err()
}
