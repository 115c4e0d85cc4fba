package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/fusion.capture/internal/monitoring"
	"github.com/banshee-data/fusion.capture/internal/protocol"
	"github.com/banshee-data/fusion.capture/internal/timeutil"
)

// Defaults for Config fields left zero.
const (
	DefaultReadTimeout   = 200 * time.Millisecond
	DefaultProgressEvery = 10
)

// Config tunes a Session.
type Config struct {
	// ID names the session; NewSessionID is used when empty.
	ID string
	// ReadTimeout bounds each line-oriented source read.
	ReadTimeout time.Duration
	// ProgressEvery logs a progress line every N saved telemetry samples.
	// Negative disables it.
	ProgressEvery int
	// ProgressInterval logs a stats line at most this often. Zero disables it.
	ProgressInterval time.Duration
	// StatsWindow is the per-channel sample window behind Stats.Channels.
	StatsWindow int
	// StopOnComplete ends Run after a completion marker.
	StopOnComplete bool
	Clock          timeutil.Clock
}

// NewSessionID returns a fresh random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// Session drives a Parser over a byte source it owns, routing each outcome to
// the sinks. It is single-worker: outcomes are handled in stream order and
// cancellation is only observed between units.
type Session struct {
	id      string
	cfg     Config
	clock   timeutil.Clock
	variant protocol.Variant
	src     protocol.ByteSource
	parser  *protocol.Parser
	sinks   Sinks

	mu           sync.Mutex
	stats        Stats
	window       *channelWindow
	lastProgress time.Time

	subscriberMu sync.Mutex
	subscribers  map[string]chan string
	closed       bool
}

// NewSession builds a session reading src with the given protocol variant.
func NewSession(src protocol.ByteSource, v protocol.Variant, sinks Sinks, cfg Config) (*Session, error) {
	if cfg.ID == "" {
		cfg.ID = NewSessionID()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.ProgressEvery == 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	parser, err := protocol.NewParser(src, v, cfg.ReadTimeout)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:          cfg.ID,
		cfg:         cfg,
		clock:       clock,
		variant:     parser.Variant(),
		src:         src,
		parser:      parser,
		sinks:       sinks,
		window:      newChannelWindow(cfg.StatsWindow),
		subscribers: make(map[string]chan string),
	}
	s.stats = Stats{
		SessionID:     cfg.ID,
		Variant:       s.variant.Name,
		FramingErrors: make(map[string]int),
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Variant returns the protocol descriptor in use.
func (s *Session) Variant() protocol.Variant { return s.variant }

// Run reads until ctx is cancelled or the source fails. Cancellation returns
// the final stats and a nil error; a transport failure returns them with the
// *protocol.TransportError. The source is closed on return when it implements
// io.Closer.
func (s *Session) Run(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	s.stats.StartedAt = s.clock.Now()
	s.lastProgress = s.stats.StartedAt
	s.mu.Unlock()

	defer s.closeSubscribers()
	if c, ok := s.src.(io.Closer); ok {
		defer c.Close()
	}

	monitoring.Logf("capture %s started (variant %s)", s.id, s.variant.Name)
	for ctx.Err() == nil {
		out, err := s.parser.Next()
		if err != nil {
			st := s.Stats()
			monitoring.Logf("capture %s stopped: %v", s.id, err)
			return st, err
		}
		if s.handle(out) && s.cfg.StopOnComplete {
			monitoring.Logf("capture %s: device reported completion", s.id)
			break
		}
		s.maybeProgress()
	}
	// a frame held behind its footer warning was fully read; deliver it
	for s.parser.Pending() > 0 {
		out, err := s.parser.Next()
		if err != nil {
			break
		}
		s.handle(out)
	}
	return s.Stats(), nil
}

// Stats returns a snapshot of the counters and channel statistics.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.FramingErrors = make(map[string]int, len(s.stats.FramingErrors))
	for k, v := range s.stats.FramingErrors {
		st.FramingErrors[k] = v
	}
	if !st.StartedAt.IsZero() {
		st.ElapsedSeconds = s.clock.Since(st.StartedAt).Seconds()
	}
	st.Channels = s.window.snapshot()
	return st
}

// handle routes one outcome and reports whether it was a completion marker.
func (s *Session) handle(out protocol.Outcome) bool {
	switch out.Kind {
	case protocol.KindIdle:
		return false

	case protocol.KindTelemetry:
		if s.sinks.Table != nil {
			if err := s.sinks.Table.AppendTelemetry(out.Telemetry); err != nil {
				s.sinkFailed(&SinkError{Sink: "table", Unit: fmt.Sprintf("telemetry ts=%d", out.Telemetry.Timestamp), Err: err})
				return false
			}
		}
		s.mu.Lock()
		s.stats.Telemetry++
		s.stats.LastTimestamp = out.Telemetry.Timestamp
		s.window.add(out.Telemetry.Channels())
		n := s.stats.Telemetry
		s.mu.Unlock()
		if s.cfg.ProgressEvery > 0 && n%s.cfg.ProgressEvery == 0 {
			monitoring.Logf("imu samples saved: %d", n)
		}
		s.publish(strings.TrimSuffix(string(protocol.AppendTelemetry(nil, s.variant, out.Telemetry)), "\n"))

	case protocol.KindFrame:
		frame := *out.Frame
		s.mu.Lock()
		frame.SequenceIndex = s.stats.Frames
		s.mu.Unlock()
		name := ""
		if s.sinks.Blobs != nil {
			var err error
			name, err = s.sinks.Blobs.WriteFrame(frame)
			if err != nil {
				s.sinkFailed(&SinkError{Sink: "blob", Unit: fmt.Sprintf("frame %d", frame.SequenceIndex), Err: err})
				return false
			}
		}
		s.mu.Lock()
		s.stats.Frames++
		s.stats.FrameBytes += int64(len(frame.Payload))
		s.mu.Unlock()
		monitoring.ObserveFrame(len(frame.Payload))
		if name != "" {
			monitoring.Logf("frame %d saved: %d bytes -> %s", frame.SequenceIndex, len(frame.Payload), name)
		} else {
			monitoring.Logf("frame %d received: %d bytes", frame.SequenceIndex, len(frame.Payload))
		}
		s.publish(out.String())

	case protocol.KindControl:
		ev := Event{At: s.clock.Now(), Type: EventControl, Kind: out.Control.Kind.String(), Detail: out.Control.Tag}
		if !s.record(ev, "control "+out.Control.Tag) {
			return false
		}
		s.mu.Lock()
		s.stats.Controls++
		s.stats.LastControl = out.Control.Tag
		s.mu.Unlock()
		monitoring.Logf("[control] %s", out.Control.Tag)
		monitoring.ObserveUnit(out.Kind.String())
		s.publish(out.String())
		return out.Control.Kind == protocol.ControlComplete

	case protocol.KindUnrecognized:
		s.mu.Lock()
		s.stats.Unrecognized++
		s.mu.Unlock()
		monitoring.Logf("[other] %s", out.Raw)
		s.publish("[other] " + out.Raw)

	case protocol.KindFramingError:
		kind := out.Err.Kind.String()
		ev := Event{At: s.clock.Now(), Type: EventFramingError, Kind: kind, Detail: out.Err.Error()}
		if !s.record(ev, kind) {
			return false
		}
		s.mu.Lock()
		s.stats.FramingErrors[kind]++
		s.mu.Unlock()
		monitoring.ObserveFramingError(kind)
		monitoring.Logf("framing error: %v", out.Err)
		s.publish(out.String())
		return false
	}

	monitoring.ObserveUnit(out.Kind.String())
	return false
}

// record writes ev to the event sink, reporting whether the unit survived.
func (s *Session) record(ev Event, unit string) bool {
	if s.sinks.Events == nil {
		return true
	}
	if err := s.sinks.Events.RecordEvent(ev); err != nil {
		s.sinkFailed(&SinkError{Sink: "events", Unit: unit, Err: err})
		return false
	}
	return true
}

func (s *Session) sinkFailed(err *SinkError) {
	s.mu.Lock()
	s.stats.SinkErrors++
	s.mu.Unlock()
	monitoring.ObserveSinkError(err.Sink)
	monitoring.Logf("skipping unit: %v", err)
}

func (s *Session) maybeProgress() {
	if s.cfg.ProgressInterval <= 0 {
		return
	}
	now := s.clock.Now()
	s.mu.Lock()
	due := now.Sub(s.lastProgress) >= s.cfg.ProgressInterval
	if due {
		s.lastProgress = now
	}
	s.mu.Unlock()
	if due {
		monitoring.Logf("progress: %v", s.Stats())
	}
}

// IsTransportError reports whether err ended a session because the byte
// source failed.
func IsTransportError(err error) bool {
	var te *protocol.TransportError
	return errors.As(err, &te)
}
