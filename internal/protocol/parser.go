package protocol

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Counts tallies what the parser has observed. It is diagnostic only.
type Counts struct {
	Lines        int
	Telemetry    int
	Frames       int
	Controls     int
	Unrecognized int
	Errors       int
}

// Parser turns the tokenized stream into Outcomes. Reading a frame payload is
// done inside a single Next call: the header, the exact-length payload read
// and the footer are consumed before any other unit is looked at.
type Parser struct {
	tok     *Tokenizer
	variant Variant
	pending []Outcome
	counts  Counts
}

// NewParser builds a parser over src. timeout bounds each line-oriented read.
func NewParser(src ByteSource, v Variant, timeout time.Duration) (*Parser, error) {
	v = v.WithDefaults()
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("invalid protocol variant: %w", err)
	}
	return &Parser{
		tok:     NewTokenizer(src, timeout, v.MaxLineLength),
		variant: v,
	}, nil
}

// Variant returns the descriptor the parser was built with.
func (p *Parser) Variant() Variant { return p.variant }

// Counts returns a copy of the diagnostic counters.
func (p *Parser) Counts() Counts { return p.counts }

// Pending reports how many outcomes are already decoded and waiting. Next
// returns them without reading the source.
func (p *Parser) Pending() int { return len(p.pending) }

// Next returns the next outcome. A KindIdle outcome means nothing complete
// arrived before the read timeout. The only error returned is a
// *TransportError.
func (p *Parser) Next() (Outcome, error) {
	if len(p.pending) > 0 {
		out := p.pending[0]
		p.pending = p.pending[1:]
		return p.count(out), nil
	}

	line, ok, err := p.tok.Next()
	if err != nil {
		return Outcome{}, &TransportError{Err: err}
	}
	if !ok {
		return Outcome{Kind: KindIdle}, nil
	}
	p.counts.Lines++

	out, err := p.classify(line)
	if err != nil {
		return Outcome{}, err
	}
	return p.count(out), nil
}

func (p *Parser) count(out Outcome) Outcome {
	switch out.Kind {
	case KindTelemetry:
		p.counts.Telemetry++
	case KindFrame:
		p.counts.Frames++
	case KindControl:
		p.counts.Controls++
	case KindUnrecognized:
		p.counts.Unrecognized++
	case KindFramingError:
		p.counts.Errors++
	}
	return out
}

func (p *Parser) classify(line string) (Outcome, error) {
	v := p.variant

	if v.FramesEnabled() {
		if line == v.FrameStart {
			return p.readTwoLineHeader(line)
		}
		if rest, ok := strings.CutPrefix(line, v.FrameStart+","); ok {
			hdr, err := parseHeaderFields(rest, true)
			if err != nil {
				return framingOutcome(&FramingError{Kind: BadHeader, Line: line, Cause: err}), nil
			}
			return p.readFrame(hdr, line)
		}
	}

	if kind, ok := v.Controls[strings.TrimSpace(line)]; ok {
		return Outcome{Kind: KindControl, Control: ControlEvent{Kind: kind, Tag: strings.TrimSpace(line)}}, nil
	}

	if payload, ok := p.telemetryPayload(line); ok {
		rec, err := parseTelemetry(payload, v.Separator)
		if err != nil {
			return framingOutcome(&FramingError{Kind: MalformedTelemetry, Line: line, Cause: err}), nil
		}
		return Outcome{Kind: KindTelemetry, Telemetry: rec}, nil
	}

	return Outcome{Kind: KindUnrecognized, Raw: line}, nil
}

// telemetryPayload decides whether line is telemetry and strips any prefix.
func (p *Parser) telemetryPayload(line string) (string, bool) {
	if p.variant.TelemetryPrefix != "" {
		return strings.CutPrefix(line, p.variant.TelemetryPrefix)
	}
	first := line
	if i := strings.IndexAny(line, fieldSeparators(p.variant.Separator)); i >= 0 {
		first = line[:i]
	} else {
		return "", false
	}
	if _, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64); err != nil {
		return "", false
	}
	return line, true
}

func fieldSeparators(s SeparatorStyle) string {
	switch s {
	case SeparatorPipe:
		return "|"
	case SeparatorComma:
		return ","
	}
	return ",|"
}

// readTwoLineHeader waits for the line after a bare start marker, which holds
// either "<ts>,<len>" or just "<len>".
func (p *Parser) readTwoLineHeader(marker string) (Outcome, error) {
	line, ok, err := p.followUp()
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return framingOutcome(&FramingError{Kind: BadHeader, Line: marker, Cause: errors.New("missing length line")}), nil
	}
	hdr, err := parseHeaderFields(line, false)
	if err != nil {
		return framingOutcome(&FramingError{Kind: BadHeader, Line: line, Cause: err}), nil
	}
	return p.readFrame(hdr, line)
}

// followUp reads the continuation of a unit, tolerating a bounded number of
// idle reads.
func (p *Parser) followUp() (string, bool, error) {
	for range p.variant.FollowUpReads {
		line, ok, err := p.tok.Next()
		if err != nil {
			return "", false, &TransportError{Err: err}
		}
		if ok {
			p.counts.Lines++
			return line, true, nil
		}
	}
	return "", false, nil
}

func (p *Parser) readFrame(hdr FrameHeader, line string) (Outcome, error) {
	if hdr.DeclaredLength > p.variant.MaxFrameBytes {
		return framingOutcome(&FramingError{
			Kind:  BadHeader,
			Line:  line,
			Cause: fmt.Errorf("declared length %d exceeds limit %d", hdr.DeclaredLength, p.variant.MaxFrameBytes),
		}), nil
	}

	payload, err := p.tok.ReadExact(hdr.DeclaredLength)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return framingOutcome(&FramingError{Kind: TruncatedFrame, Expected: hdr.DeclaredLength, Got: len(payload)}), nil
	}
	if err != nil {
		return Outcome{}, &TransportError{Err: err}
	}
	if len(payload) != hdr.DeclaredLength {
		return framingOutcome(&FramingError{Kind: TruncatedFrame, Expected: hdr.DeclaredLength, Got: len(payload)}), nil
	}

	frame := Outcome{Kind: KindFrame, Frame: &BinaryFrame{Header: hdr, Payload: payload}}
	if p.variant.Footer == FooterNone {
		return frame, nil
	}

	warn, err := p.readFooter()
	if err != nil {
		return Outcome{}, err
	}
	if warn != nil {
		// the warning goes out first; the frame follows on the next call
		p.pending = append(p.pending, frame)
		return framingOutcome(warn), nil
	}
	return frame, nil
}

// readFooter consumes the blank separator and the end marker that follow a
// payload, realigning the line stream after the raw read.
func (p *Parser) readFooter() (*FramingError, error) {
	sep, ok, err := p.followUp()
	if err != nil {
		return nil, err
	}
	if !ok {
		return &FramingError{Kind: UnexpectedFooter, Actual: ""}, nil
	}
	end, ok, err := p.followUp()
	if err != nil {
		return nil, err
	}
	if !ok {
		return &FramingError{Kind: UnexpectedFooter, Actual: ""}, nil
	}
	if strings.TrimSpace(end) != p.variant.FrameEnd {
		return &FramingError{Kind: UnexpectedFooter, Actual: end}, nil
	}
	if strings.TrimSpace(sep) != "" {
		return &FramingError{Kind: UnexpectedFooter, Actual: sep}, nil
	}
	return nil, nil
}

func framingOutcome(err *FramingError) Outcome {
	return Outcome{Kind: KindFramingError, Err: err}
}

// parseHeaderFields parses "<ts>,<len>" or, when inline is false, a bare
// "<len>".
func parseHeaderFields(s string, inline bool) (FrameHeader, error) {
	fields := strings.Split(strings.TrimSpace(s), ",")
	var hdr FrameHeader
	switch {
	case len(fields) == 2:
		ts, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil {
			return hdr, fmt.Errorf("invalid timestamp: %w", err)
		}
		if ts < 0 {
			return hdr, fmt.Errorf("negative timestamp %d", ts)
		}
		hdr.Timestamp = ts
		fields = fields[1:]
	case len(fields) == 1 && !inline:
	default:
		return hdr, fmt.Errorf("expected <ts>,<len>, got %d fields", len(fields))
	}

	n, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return hdr, fmt.Errorf("invalid length: %w", err)
	}
	if n <= 0 {
		return hdr, fmt.Errorf("length must be positive, got %d", n)
	}
	hdr.DeclaredLength = n
	return hdr, nil
}

// parseTelemetry parses exactly a timestamp and six numeric channels.
func parseTelemetry(payload string, sep SeparatorStyle) (TelemetryRecord, error) {
	if sep == SeparatorAuto {
		sep = SeparatorComma
		if strings.Contains(payload, "|") {
			sep = SeparatorPipe
		}
	}

	var fields []string
	switch sep {
	case SeparatorComma:
		fields = strings.Split(payload, ",")
	case SeparatorPipe:
		groups := strings.Split(payload, "|")
		if len(groups) != 3 {
			return TelemetryRecord{}, fmt.Errorf("expected 3 pipe groups, got %d", len(groups))
		}
		accel := strings.Split(groups[1], ",")
		gyro := strings.Split(groups[2], ",")
		if len(accel) != 3 || len(gyro) != 3 {
			return TelemetryRecord{}, fmt.Errorf("expected 3 accel and 3 gyro fields, got %d and %d", len(accel), len(gyro))
		}
		fields = append(append([]string{groups[0]}, accel...), gyro...)
	}
	if len(fields) != 7 {
		return TelemetryRecord{}, fmt.Errorf("expected 7 fields, got %d", len(fields))
	}

	var rec TelemetryRecord
	ts, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return rec, fmt.Errorf("invalid timestamp: %w", err)
	}
	rec.Timestamp = ts

	var ch [6]float64
	for i, f := range fields[1:] {
		v, err := parseDecimal(f)
		if err != nil {
			return rec, fmt.Errorf("invalid channel %d: %w", i, err)
		}
		ch[i] = v
	}
	copy(rec.Accel[:], ch[:3])
	copy(rec.Gyro[:], ch[3:])
	return rec, nil
}

// parseDecimal accepts an optionally signed integer or decimal such as "-12",
// "3." or "+0.25". Exponents, hex, underscores and NaN/Inf spellings are
// rejected.
func parseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	digits, dot := 0, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && !dot:
			dot = true
		case (c == '+' || c == '-') && i == 0:
		default:
			return 0, fmt.Errorf("invalid number %q", s)
		}
	}
	if digits == 0 {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return strconv.ParseFloat(s, 64)
}
