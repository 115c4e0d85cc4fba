package capture

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultStatsWindow is the number of recent samples kept per channel.
const DefaultStatsWindow = 200

// ChannelNames labels the six telemetry channels in record order.
var ChannelNames = [6]string{"ax", "ay", "az", "gx", "gy", "gz"}

// ChannelStats summarises the recent window of one telemetry channel.
type ChannelStats struct {
	Name    string  `json:"name"`
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	Last    float64 `json:"last"`
}

// Stats is a point-in-time view of a session.
type Stats struct {
	SessionID      string         `json:"session_id"`
	Variant        string         `json:"variant"`
	StartedAt      time.Time      `json:"started_at"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	Telemetry      int            `json:"telemetry"`
	Frames         int            `json:"frames"`
	FrameBytes     int64          `json:"frame_bytes"`
	Controls       int            `json:"controls"`
	Unrecognized   int            `json:"unrecognized"`
	FramingErrors  map[string]int `json:"framing_errors"`
	SinkErrors     int            `json:"sink_errors"`
	LastControl    string         `json:"last_control,omitempty"`
	LastTimestamp  int64          `json:"last_timestamp_ms"`
	Channels       []ChannelStats `json:"channels,omitempty"`
}

// TotalFramingErrors sums FramingErrors across kinds.
func (s Stats) TotalFramingErrors() int {
	n := 0
	for _, c := range s.FramingErrors {
		n += c
	}
	return n
}

// String renders the one-line summary printed when a session ends.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "session %s: %d telemetry samples, %d frames (%d bytes), %d controls, %d other lines",
		s.SessionID, s.Telemetry, s.Frames, s.FrameBytes, s.Controls, s.Unrecognized)
	if n := s.TotalFramingErrors(); n > 0 {
		kinds := make([]string, 0, len(s.FramingErrors))
		for k, c := range s.FramingErrors {
			kinds = append(kinds, fmt.Sprintf("%s=%d", k, c))
		}
		sort.Strings(kinds)
		fmt.Fprintf(&b, ", %d framing errors [%s]", n, strings.Join(kinds, " "))
	}
	if s.SinkErrors > 0 {
		fmt.Fprintf(&b, ", %d sink errors", s.SinkErrors)
	}
	fmt.Fprintf(&b, " in %.1fs", s.ElapsedSeconds)
	return b.String()
}

// channelWindow is a ring of the most recent samples per channel.
type channelWindow struct {
	size int
	vals [6][]float64
	next int
}

func newChannelWindow(size int) *channelWindow {
	if size <= 0 {
		size = DefaultStatsWindow
	}
	w := &channelWindow{size: size}
	for i := range w.vals {
		w.vals[i] = make([]float64, 0, size)
	}
	return w
}

func (w *channelWindow) add(ch [6]float64) {
	for i, v := range ch {
		if len(w.vals[i]) < w.size {
			w.vals[i] = append(w.vals[i], v)
		} else {
			w.vals[i][w.next] = v
		}
	}
	w.next = (w.next + 1) % w.size
}

func (w *channelWindow) snapshot() []ChannelStats {
	if len(w.vals[0]) == 0 {
		return nil
	}
	last := (w.next - 1 + w.size) % w.size
	out := make([]ChannelStats, len(ChannelNames))
	for i, name := range ChannelNames {
		vals := w.vals[i]
		cs := ChannelStats{Name: name, Samples: len(vals)}
		if last < len(vals) {
			cs.Last = vals[last]
		}
		if len(vals) > 1 {
			cs.Mean, cs.StdDev = stat.MeanStdDev(vals, nil)
		} else {
			cs.Mean = vals[0]
		}
		out[i] = cs
	}
	return out
}
