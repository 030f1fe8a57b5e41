package broker

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/soundpost/metric"
)

// Metrics holds Prometheus metrics for broker connectivity
type Metrics struct {
	connectAttempts  prometheus.Counter
	connectFailures  prometheus.Counter
	connectSuccesses prometheus.Counter
	failovers        prometheus.Counter
	activeEndpoint   prometheus.Gauge
}

// NewMetrics creates and registers connectivity metrics. Returns nil when
// the registry is nil so callers can skip metrics without conditionals.
func NewMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soundpost",
			Subsystem: "broker",
			Name:      "connect_attempts_total",
			Help:      "Total broker connect attempts",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soundpost",
			Subsystem: "broker",
			Name:      "connect_failures_total",
			Help:      "Total failed broker connect attempts",
		}),
		connectSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soundpost",
			Subsystem: "broker",
			Name:      "connect_successes_total",
			Help:      "Total successful broker connects",
		}),
		failovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "soundpost",
			Subsystem: "broker",
			Name:      "failovers_total",
			Help:      "Total primary/fallback endpoint flips",
		}),
		activeEndpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "soundpost",
			Subsystem: "broker",
			Name:      "active_endpoint",
			Help:      "Currently active endpoint (0=primary, 1=fallback)",
		}),
	}

	registry.MustRegister("broker", "connect_attempts", m.connectAttempts)
	registry.MustRegister("broker", "connect_failures", m.connectFailures)
	registry.MustRegister("broker", "connect_successes", m.connectSuccesses)
	registry.MustRegister("broker", "failovers", m.failovers)
	registry.MustRegister("broker", "active_endpoint", m.activeEndpoint)

	return m
}
