// Package protocol demultiplexes the mixed text/binary byte stream emitted by
// the IMU+camera device: newline-terminated telemetry and control lines
// interleaved with length-prefixed JPEG payloads.
package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// SeparatorStyle selects how telemetry fields are delimited on the wire.
type SeparatorStyle int

const (
	// SeparatorComma is "ts,ax,ay,az,gx,gy,gz".
	SeparatorComma SeparatorStyle = iota
	// SeparatorPipe is "ts|ax,ay,az|gx,gy,gz".
	SeparatorPipe
	// SeparatorAuto picks pipe when the payload contains '|', comma otherwise.
	SeparatorAuto
)

func (s SeparatorStyle) String() string {
	switch s {
	case SeparatorComma:
		return "comma"
	case SeparatorPipe:
		return "pipe"
	case SeparatorAuto:
		return "auto"
	default:
		return fmt.Sprintf("separator(%d)", int(s))
	}
}

// ParseSeparatorStyle maps a config token onto a SeparatorStyle.
func ParseSeparatorStyle(s string) (SeparatorStyle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "comma", ",":
		return SeparatorComma, nil
	case "pipe", "|":
		return SeparatorPipe, nil
	case "auto", "":
		return SeparatorAuto, nil
	}
	return 0, fmt.Errorf("unknown separator style %q: expected comma, pipe or auto", s)
}

// HeaderStyle selects how frame headers are written by the encoder. The
// parser accepts both styles regardless of this setting.
type HeaderStyle int

const (
	// HeaderTwoLine is "FRAME_START\n<ts>,<len>\n".
	HeaderTwoLine HeaderStyle = iota
	// HeaderInline is "FRAME_START,<ts>,<len>\n".
	HeaderInline
)

func (h HeaderStyle) String() string {
	if h == HeaderInline {
		return "inline"
	}
	return "two_line"
}

// ParseHeaderStyle maps a config token onto a HeaderStyle.
func ParseHeaderStyle(s string) (HeaderStyle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "two_line", "two-line", "":
		return HeaderTwoLine, nil
	case "inline":
		return HeaderInline, nil
	}
	return 0, fmt.Errorf("unknown header style %q: expected two_line or inline", s)
}

// FooterStyle selects whether a payload is followed by a blank line and an
// end marker.
type FooterStyle int

const (
	FooterMarker FooterStyle = iota
	FooterNone
)

func (f FooterStyle) String() string {
	if f == FooterNone {
		return "none"
	}
	return "marker"
}

// ParseFooterStyle maps a config token onto a FooterStyle.
func ParseFooterStyle(s string) (FooterStyle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "marker", "":
		return FooterMarker, nil
	case "none":
		return FooterNone, nil
	}
	return 0, fmt.Errorf("unknown footer style %q: expected marker or none", s)
}

const (
	DefaultFrameStart    = "FRAME_START"
	DefaultFrameEnd      = "FRAME_END"
	DefaultMaxFrameBytes = 4 << 20
	DefaultMaxLineLength = 64 << 10
	DefaultFollowUpReads = 3
)

// Variant describes one firmware's flavour of the wire protocol. A single
// Parser is configured by a Variant instead of keeping one reader per firmware.
type Variant struct {
	Name string

	Separator SeparatorStyle
	// TelemetryPrefix is stripped from telemetry lines, e.g. "IMU,". When
	// empty a line is telemetry if its first field is an integer timestamp.
	TelemetryPrefix string

	// FrameStart enables frame support when non-empty.
	FrameStart string
	FrameEnd   string
	Header     HeaderStyle
	Footer     FooterStyle

	// Controls maps marker lines onto their lifecycle kind.
	Controls map[string]ControlKind

	MaxFrameBytes int
	MaxLineLength int
	// FollowUpReads is the number of consecutive idle reads tolerated while
	// waiting for the continuation of a started unit.
	FollowUpReads int
}

// DefaultControls is the marker set printed by the capture firmware.
func DefaultControls() map[string]ControlKind {
	return map[string]ControlKind{
		"SESSION_START": ControlSessionStart,
		"IMU_READY":     ControlSubsystemReady,
		"CAMERA_READY":  ControlSubsystemReady,
		"CAPTURE_DONE":  ControlComplete,
	}
}

// FramesEnabled reports whether the variant carries binary frames.
func (v Variant) FramesEnabled() bool {
	return v.FrameStart != ""
}

// WithDefaults fills unset limits.
func (v Variant) WithDefaults() Variant {
	if v.FramesEnabled() && v.FrameEnd == "" && v.Footer == FooterMarker {
		v.FrameEnd = DefaultFrameEnd
	}
	if v.MaxFrameBytes <= 0 {
		v.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if v.MaxLineLength <= 0 {
		v.MaxLineLength = DefaultMaxLineLength
	}
	if v.FollowUpReads <= 0 {
		v.FollowUpReads = DefaultFollowUpReads
	}
	if v.Controls == nil {
		v.Controls = DefaultControls()
	}
	return v
}

// Validate rejects descriptors whose markers would be ambiguous.
func (v Variant) Validate() error {
	if v.Separator < SeparatorComma || v.Separator > SeparatorAuto {
		return fmt.Errorf("invalid separator style %d", int(v.Separator))
	}
	if v.FramesEnabled() {
		if strings.ContainsAny(v.FrameStart, ",|\n") {
			return fmt.Errorf("frame start marker %q must not contain separators or newlines", v.FrameStart)
		}
		if v.Footer == FooterMarker && strings.TrimSpace(v.FrameEnd) == "" {
			return fmt.Errorf("footer style marker requires a frame end marker")
		}
	}
	if v.TelemetryPrefix != "" && v.TelemetryPrefix == v.FrameStart {
		return fmt.Errorf("telemetry prefix %q collides with frame start marker", v.TelemetryPrefix)
	}
	for marker := range v.Controls {
		if marker == "" {
			return fmt.Errorf("control marker must not be empty")
		}
		if marker == v.FrameStart || marker == v.FrameEnd {
			return fmt.Errorf("control marker %q collides with frame markers", marker)
		}
	}
	return nil
}

var presets = map[string]Variant{
	// IMU lines prefixed with "IMU," interleaved with camera frames.
	"fusion": {
		Name:            "fusion",
		Separator:       SeparatorComma,
		TelemetryPrefix: "IMU,",
		FrameStart:      DefaultFrameStart,
		FrameEnd:        DefaultFrameEnd,
		Header:          HeaderTwoLine,
		Footer:          FooterMarker,
	},
	// Camera-only firmware: "FRAME_START", "<len>", payload, "", "FRAME_END".
	"frames": {
		Name:       "frames",
		Separator:  SeparatorComma,
		FrameStart: DefaultFrameStart,
		FrameEnd:   DefaultFrameEnd,
		Header:     HeaderTwoLine,
		Footer:     FooterMarker,
	},
	// MicroPython IMU firmware printing "ts|ax,ay,az|gx,gy,gz".
	"pipe": {
		Name:      "pipe",
		Separator: SeparatorPipe,
	},
	// Unprefixed comma telemetry with inline frame headers.
	"stream": {
		Name:       "stream",
		Separator:  SeparatorComma,
		FrameStart: DefaultFrameStart,
		FrameEnd:   DefaultFrameEnd,
		Header:     HeaderInline,
		Footer:     FooterMarker,
	},
}

// VariantByName returns a preset descriptor with defaults applied.
func VariantByName(name string) (Variant, error) {
	v, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Variant{}, fmt.Errorf("unknown protocol variant %q (known: %s)", name, strings.Join(VariantNames(), ", "))
	}
	return v.WithDefaults(), nil
}

// VariantNames lists the preset names in sorted order.
func VariantNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
