package protocol

import (
	"fmt"
	"time"
)

// ByteSource is the transport underneath the tokenizer. ReadUpTo returns
// between 0 and n bytes; a zero-length result with a nil error means the read
// timed out. ReadExact returns the bytes it managed to read together with
// io.ErrUnexpectedEOF when fewer than n arrived.
type ByteSource interface {
	ReadUpTo(n int, timeout time.Duration) ([]byte, error)
	ReadExact(n int) ([]byte, error)
}

// TelemetryRecord is one IMU sample. Timestamp is milliseconds on the device
// clock.
type TelemetryRecord struct {
	Timestamp int64
	Accel     [3]float64
	Gyro      [3]float64
}

// Channels returns the six numeric channels in wire order.
func (r TelemetryRecord) Channels() [6]float64 {
	return [6]float64{r.Accel[0], r.Accel[1], r.Accel[2], r.Gyro[0], r.Gyro[1], r.Gyro[2]}
}

type FrameHeader struct {
	Timestamp      int64
	DeclaredLength int
}

// BinaryFrame is only constructed once the payload length equals the
// declared length. SequenceIndex is assigned by the capture session.
type BinaryFrame struct {
	Header        FrameHeader
	Payload       []byte
	SequenceIndex int
}

type ControlKind int

const (
	ControlSessionStart ControlKind = iota + 1
	ControlSubsystemReady
	ControlComplete
)

func (k ControlKind) String() string {
	switch k {
	case ControlSessionStart:
		return "session_start"
	case ControlSubsystemReady:
		return "subsystem_ready"
	case ControlComplete:
		return "complete"
	default:
		return fmt.Sprintf("control(%d)", int(k))
	}
}

// ParseControlKind maps a config token onto a ControlKind.
func ParseControlKind(s string) (ControlKind, error) {
	switch s {
	case "session_start":
		return ControlSessionStart, nil
	case "subsystem_ready":
		return ControlSubsystemReady, nil
	case "complete":
		return ControlComplete, nil
	}
	return 0, fmt.Errorf("unknown control kind %q: expected session_start, subsystem_ready or complete", s)
}

// ControlEvent is a payload-free lifecycle marker. Tag is the marker text as
// seen on the wire.
type ControlEvent struct {
	Kind ControlKind
	Tag  string
}

type OutcomeKind int

const (
	// KindIdle means no complete unit arrived within the read timeout.
	KindIdle OutcomeKind = iota
	KindTelemetry
	KindFrame
	KindControl
	KindUnrecognized
	KindFramingError
)

func (k OutcomeKind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindTelemetry:
		return "telemetry"
	case KindFrame:
		return "frame"
	case KindControl:
		return "control"
	case KindUnrecognized:
		return "unrecognized"
	case KindFramingError:
		return "framing_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the result of one parser step. Exactly one of the payload
// fields is meaningful, selected by Kind.
type Outcome struct {
	Kind      OutcomeKind
	Telemetry TelemetryRecord
	Frame     *BinaryFrame
	Control   ControlEvent
	Raw       string
	Err       *FramingError
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindTelemetry:
		return fmt.Sprintf("telemetry ts=%d", o.Telemetry.Timestamp)
	case KindFrame:
		return fmt.Sprintf("frame ts=%d len=%d", o.Frame.Header.Timestamp, len(o.Frame.Payload))
	case KindControl:
		return fmt.Sprintf("control %s (%s)", o.Control.Kind, o.Control.Tag)
	case KindUnrecognized:
		return fmt.Sprintf("unrecognized %q", o.Raw)
	case KindFramingError:
		return o.Err.Error()
	}
	return o.Kind.String()
}
