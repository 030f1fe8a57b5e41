package playback

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/soundpost/metric"
)

// Metrics holds Prometheus metrics for the playback engine
type Metrics struct {
	itemsPlayed      prometheus.Counter
	itemsInterrupted prometheus.Counter
	decodeFailures   prometheus.Counter
	framesWritten    prometheus.Counter
	queueDepth       prometheus.Gauge
}

// NewMetrics creates and registers playback metrics. Returns nil when the
// registry is nil so callers can skip metrics without conditionals.
func NewMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		itemsPlayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soundpost",
			Subsystem: "playback",
			Name:      "items_played_total",
			Help:      "Total alerts played to completion",
		}),
		itemsInterrupted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soundpost",
			Subsystem: "playback",
			Name:      "items_interrupted_total",
			Help:      "Total alerts cut off by an interrupt",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soundpost",
			Subsystem: "playback",
			Name:      "decode_failures_total",
			Help:      "Total alerts aborted on a decode error",
		}),
		framesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soundpost",
			Subsystem: "playback",
			Name:      "frames_written_total",
			Help:      "Total PCM frames written to the output",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "soundpost",
			Subsystem: "playback",
			Name:      "queue_depth",
			Help:      "Alerts waiting in the playback queue",
		}),
	}

	registry.MustRegister("playback", "items_played", m.itemsPlayed)
	registry.MustRegister("playback", "items_interrupted", m.itemsInterrupted)
	registry.MustRegister("playback", "decode_failures", m.decodeFailures)
	registry.MustRegister("playback", "frames_written", m.framesWritten)
	registry.MustRegister("playback", "queue_depth", m.queueDepth)

	return m
}
