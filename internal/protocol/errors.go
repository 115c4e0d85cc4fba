package protocol

import (
	"fmt"
)

type FramingErrorKind int

const (
	MalformedTelemetry FramingErrorKind = iota + 1
	BadHeader
	TruncatedFrame
	UnexpectedFooter
)

func (k FramingErrorKind) String() string {
	switch k {
	case MalformedTelemetry:
		return "malformed_telemetry"
	case BadHeader:
		return "bad_header"
	case TruncatedFrame:
		return "truncated_frame"
	case UnexpectedFooter:
		return "unexpected_footer"
	default:
		return fmt.Sprintf("framing_error(%d)", int(k))
	}
}

// FramingError is a recoverable per-unit defect. The parser reports it as an
// Outcome and keeps going.
type FramingError struct {
	Kind FramingErrorKind
	// Line is the offending text for MalformedTelemetry and BadHeader.
	Line string
	// Expected and Got are byte counts for TruncatedFrame.
	Expected int
	Got      int
	// Actual is the footer text seen in place of the end marker.
	Actual string
	Cause  error
}

func (e *FramingError) Error() string {
	switch e.Kind {
	case TruncatedFrame:
		return fmt.Sprintf("truncated frame: got %d of %d bytes", e.Got, e.Expected)
	case UnexpectedFooter:
		return fmt.Sprintf("unexpected frame footer %q", e.Actual)
	case BadHeader:
		if e.Cause != nil {
			return fmt.Sprintf("bad frame header %q: %v", e.Line, e.Cause)
		}
		return fmt.Sprintf("bad frame header %q", e.Line)
	case MalformedTelemetry:
		if e.Cause != nil {
			return fmt.Sprintf("malformed telemetry %q: %v", e.Line, e.Cause)
		}
		return fmt.Sprintf("malformed telemetry %q", e.Line)
	}
	return e.Kind.String()
}

func (e *FramingError) Unwrap() error { return e.Cause }

// TransportError wraps a failure of the byte source. It is the only error
// that ends a capture session.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
