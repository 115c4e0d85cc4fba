package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	serialBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fusion_capture_serial_bytes_total",
		Help: "Bytes read from the serial device",
	})

	unitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_capture_units_total",
		Help: "Parsed units grouped by kind",
	}, []string{"kind"})

	framingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_capture_framing_errors_total",
		Help: "Recoverable framing errors grouped by kind",
	}, []string{"kind"})

	sinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_capture_sink_errors_total",
		Help: "Failed sink writes grouped by sink",
	}, []string{"sink"})

	frameBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fusion_capture_frame_bytes",
		Help:    "Payload size of saved binary frames",
		Buckets: prometheus.ExponentialBuckets(1024, 2, 12),
	})
)

// ObserveSerialRead records bytes received from the device.
func ObserveSerialRead(n int) {
	if n > 0 {
		serialBytes.Add(float64(n))
	}
}

// ObserveUnit counts one parsed unit of the given kind.
func ObserveUnit(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	unitsTotal.WithLabelValues(kind).Inc()
}

// ObserveFramingError counts one recoverable framing error.
func ObserveFramingError(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	framingErrors.WithLabelValues(kind).Inc()
}

// ObserveSinkError counts one failed sink write.
func ObserveSinkError(sink string) {
	sinkErrors.WithLabelValues(sink).Inc()
}

// ObserveFrame records the size of a saved frame.
func ObserveFrame(size int) {
	frameBytes.Observe(float64(size))
}
