package serialmux

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/banshee-data/fusion.capture/internal/protocol"
	"github.com/banshee-data/fusion.capture/internal/timeutil"
)

// Simulator plays the firmware side of a capture into a MockPort: control
// markers, a steady telemetry stream and a binary frame every FrameEvery
// samples. Output is encoded with the protocol encoders so it always matches
// the configured variant.
type Simulator struct {
	Variant    protocol.Variant
	Interval   time.Duration
	FrameEvery int
	FrameSize  int
	Clock      timeutil.Clock
}

// Preamble returns the markers the firmware prints after a reset.
func (s *Simulator) Preamble() []byte {
	var out []byte
	for _, m := range s.markers(protocol.ControlSessionStart, protocol.ControlSubsystemReady) {
		out = protocol.AppendControl(out, m)
	}
	return out
}

// Step returns the bytes emitted for sample i.
func (s *Simulator) Step(i int) []byte {
	ts := int64(i) * s.Interval.Milliseconds()
	out := protocol.AppendTelemetry(nil, s.Variant, s.Sample(i))
	if s.Variant.FramesEnabled() && s.FrameEvery > 0 && i > 0 && i%s.FrameEvery == 0 {
		payload := s.payload(i)
		hdr := protocol.FrameHeader{Timestamp: ts, DeclaredLength: len(payload)}
		out = protocol.AppendFrame(out, s.Variant, hdr, payload)
	}
	return out
}

// Sample returns a deterministic IMU reading for sample i.
func (s *Simulator) Sample(i int) protocol.TelemetryRecord {
	phase := float64(i) / 10
	return protocol.TelemetryRecord{
		Timestamp: int64(i) * s.Interval.Milliseconds(),
		Accel: [3]float64{
			math.Round(1000 * math.Sin(phase)),
			math.Round(1000 * math.Cos(phase)),
			16384,
		},
		Gyro: [3]float64{float64(i % 7), -float64(i % 5), 0},
	}
}

// Run feeds port until ctx is cancelled, then writes the completion marker
// and ends the input.
func (s *Simulator) Run(ctx context.Context, port *MockPort) {
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}

	port.Feed(s.Preamble())
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			var out []byte
			for _, m := range s.markers(protocol.ControlComplete) {
				out = protocol.AppendControl(out, m)
			}
			port.Feed(out)
			port.EndInput()
			return
		case <-ticker.C():
			port.Feed(s.Step(i))
		}
	}
}

// markers returns the variant's control markers of the given kinds, ordered
// by kind then name.
func (s *Simulator) markers(kinds ...protocol.ControlKind) []string {
	var out []string
	for _, k := range kinds {
		var names []string
		for name, kind := range s.Variant.Controls {
			if kind == k {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		out = append(out, names...)
	}
	return out
}

// payload fakes a JPEG: SOI, filler, EOI.
func (s *Simulator) payload(i int) []byte {
	n := max(s.FrameSize, 4)
	p := make([]byte, n)
	for j := range p {
		p[j] = byte(i + j)
	}
	p[0], p[1] = 0xFF, 0xD8
	p[n-2], p[n-1] = 0xFF, 0xD9
	return p
}
