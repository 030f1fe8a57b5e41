package framer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/soundpost/metric"
)

// Metrics holds Prometheus metrics for message framing
type Metrics struct {
	messagesAnnounced prometheus.Counter
	messagesStaged    prometheus.Counter
	framingErrors     prometheus.Counter
	payloadBytes      prometheus.Counter
	drainedBytes      prometheus.Counter
}

// NewMetrics creates and registers framing metrics. Returns nil when the
// registry is nil so callers can skip metrics without conditionals.
func NewMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		messagesAnnounced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soundpost",
			Subsystem: "framer",
			Name:      "messages_announced_total",
			Help:      "Total message announcements received",
		}),
		messagesStaged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soundpost",
			Subsystem: "framer",
			Name:      "messages_staged_total",
			Help:      "Total alerts fully staged to disk",
		}),
		framingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soundpost",
			Subsystem: "framer",
			Name:      "framing_errors_total",
			Help:      "Total malformed envelopes dropped",
		}),
		payloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soundpost",
			Subsystem: "framer",
			Name:      "payload_bytes_total",
			Help:      "Total Opus payload bytes staged",
		}),
		drainedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soundpost",
			Subsystem: "framer",
			Name:      "drained_bytes_total",
			Help:      "Total bytes discarded while re-aligning the stream",
		}),
	}

	registry.MustRegister("framer", "messages_announced", m.messagesAnnounced)
	registry.MustRegister("framer", "messages_staged", m.messagesStaged)
	registry.MustRegister("framer", "framing_errors", m.framingErrors)
	registry.MustRegister("framer", "payload_bytes", m.payloadBytes)
	registry.MustRegister("framer", "drained_bytes", m.drainedBytes)

	return m
}
