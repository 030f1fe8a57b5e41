package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/soundpost/errors"
	"github.com/c360/soundpost/transport"
)

// Default failover parameters. The threshold is operator-tunable
// configuration, not an invariant; see Option WithFailoverThreshold.
const (
	DefaultFailoverThreshold = 5
	DefaultConnectTimeout    = 10 * time.Second
)

// Manager owns the primary/fallback endpoint selection and the connectivity
// bookkeeping. It decides WHICH endpoint the next connect attempt targets;
// the caller (the receive task's reconnect loop) owns WHEN to retry and the
// delay schedule between attempts.
//
// There is no terminal failure state: the manager cycles between the two
// endpoints indefinitely. All methods are invoked from the single receive
// task; the mutex only guards read access from status reporting.
type Manager struct {
	primary  Endpoint
	fallback Endpoint
	dialer   transport.Dialer

	threshold      int
	connectTimeout time.Duration
	logger         *slog.Logger
	metrics        *Metrics

	mu    sync.Mutex
	state State
}

// Option is a functional option for configuring the Manager
type Option func(*Manager) error

// WithFailoverThreshold sets how many consecutive failures flip the active
// endpoint. Values below 1 fall back to the default.
func WithFailoverThreshold(n int) Option {
	return func(m *Manager) error {
		if n >= 1 {
			m.threshold = n
		}
		return nil
	}
}

// WithConnectTimeout bounds each connect attempt
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) error {
		if d > 0 {
			m.connectTimeout = d
		}
		return nil
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger != nil {
			m.logger = logger
		}
		return nil
	}
}

// WithMetrics registers connectivity metrics with the given registry
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) error {
		m.metrics = metrics
		return nil
	}
}

// NewManager creates a connectivity manager for the two configured broker
// endpoints. The active endpoint starts at primary.
func NewManager(primary, fallback Endpoint, dialer transport.Dialer, opts ...Option) (*Manager, error) {
	if err := primary.Validate(); err != nil {
		return nil, errors.Wrap(err, "Manager", "NewManager", "validate primary endpoint")
	}
	if err := fallback.Validate(); err != nil {
		return nil, errors.Wrap(err, "Manager", "NewManager", "validate fallback endpoint")
	}
	if dialer == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "NewManager", "dialer")
	}

	m := &Manager{
		primary:        primary,
		fallback:       fallback,
		dialer:         dialer,
		threshold:      DefaultFailoverThreshold,
		connectTimeout: DefaultConnectTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, errors.WrapInvalid(err, "Manager", "NewManager", "apply option")
		}
	}

	if m.metrics != nil {
		m.metrics.activeEndpoint.Set(float64(Primary))
	}

	return m, nil
}

// Current returns the currently active endpoint
func (m *Manager) Current() Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpointFor(m.state.Active)
}

// Snapshot returns a copy of the connectivity state for status reporting
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect attempts a transport connection to the active endpoint, bounded by
// the configured per-attempt timeout. It performs no failure bookkeeping of
// its own: the caller reports the outcome through ReportFailure or
// ReportSuccess so attempt counting stays in one place.
func (m *Manager) Connect(ctx context.Context) (transport.Conn, error) {
	endpoint := m.Current()

	ctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	if m.metrics != nil {
		m.metrics.connectAttempts.Inc()
	}
	m.logger.Info("connecting to broker", "endpoint", endpoint.String(), "role", m.Snapshot().Active.String())

	conn, err := m.dialer.Dial(ctx, endpoint.URL())
	if err != nil {
		return nil, errors.WrapTransient(err, "Manager", "Connect", "dial "+endpoint.String())
	}
	return conn, nil
}

// ReportFailure records a failed connect attempt. When the consecutive
// failure count reaches the threshold the active endpoint flips to the other
// candidate and the counter resets, so the next Connect targets the other
// broker. Returns true when a flip occurred so the caller can reset its
// backoff schedule.
func (m *Manager) ReportFailure() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.ConsecutiveFailures++
	m.state.TotalAttempts++

	if m.metrics != nil {
		m.metrics.connectFailures.Inc()
	}

	if m.state.ConsecutiveFailures < m.threshold {
		return false
	}

	from := m.state.Active
	m.state.Active = from.other()
	m.state.ConsecutiveFailures = 0

	if m.metrics != nil {
		m.metrics.failovers.Inc()
		m.metrics.activeEndpoint.Set(float64(m.state.Active))
	}
	m.logger.Warn("broker failover",
		"from", m.endpointFor(from).String(),
		"to", m.endpointFor(m.state.Active).String(),
		"after_failures", m.threshold)

	return true
}

// ReportSuccess records a successful connect. The failure counter resets;
// the active endpoint is left alone, so a device that failed over stays on
// the fallback until that one fails in turn.
func (m *Manager) ReportSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.ConsecutiveFailures = 0
	m.state.TotalAttempts++

	if m.metrics != nil {
		m.metrics.connectSuccesses.Inc()
	}
}

func (m *Manager) endpointFor(r Role) Endpoint {
	if r == Primary {
		return m.primary
	}
	return m.fallback
}
