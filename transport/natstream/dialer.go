package natstream

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/soundpost/errors"
	"github.com/c360/soundpost/transport"
)

// Default connection parameters. Reconnection is owned by the connectivity
// manager, not by the NATS client: auto-reconnect stays disabled so every
// connection loss surfaces as a failure the failover bookkeeping can see.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultChunkDepth     = 8

	// Pending limits for the alert subscription. When the reader stalls,
	// inbound messages queue here and shed as slow-consumer errors past
	// these bounds, capping how much undelivered payload sits in RAM.
	pendingMsgLimit   = 2048
	pendingBytesLimit = 8 << 20
)

// Dialer dials broker endpoints and subscribes to the device's alert subject,
// producing transport.Conn streams. One Dialer is shared by the connectivity
// manager across both candidate endpoints.
type Dialer struct {
	subject    string
	clientName string
	timeout    time.Duration
	chunkDepth int
	logger     *slog.Logger
}

var _ transport.Dialer = (*Dialer)(nil)

// DialerOption is a functional option for configuring the Dialer
type DialerOption func(*Dialer) error

// WithClientName sets the NATS client name reported to the broker
func WithClientName(name string) DialerOption {
	return func(d *Dialer) error {
		d.clientName = name
		return nil
	}
}

// WithConnectTimeout bounds each dial attempt
func WithConnectTimeout(timeout time.Duration) DialerOption {
	return func(d *Dialer) error {
		if timeout > 0 {
			d.timeout = timeout
		}
		return nil
	}
}

// WithChunkDepth sets how many inbound chunks may be buffered before the
// subscription applies backpressure
func WithChunkDepth(depth int) DialerOption {
	return func(d *Dialer) error {
		if depth > 0 {
			d.chunkDepth = depth
		}
		return nil
	}
}

// WithLogger sets a custom logger for the dialer and its connections
func WithLogger(logger *slog.Logger) DialerOption {
	return func(d *Dialer) error {
		if logger != nil {
			d.logger = logger
		}
		return nil
	}
}

// NewDialer creates a dialer for the given alert subject
func NewDialer(subject string, opts ...DialerOption) (*Dialer, error) {
	if subject == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Dialer", "NewDialer", "alert subject")
	}

	d := &Dialer{
		subject:    subject,
		timeout:    defaultConnectTimeout,
		chunkDepth: defaultChunkDepth,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, errors.WrapInvalid(err, "Dialer", "NewDialer", "apply option")
		}
	}
	return d, nil
}

// Dial connects to the broker at url, subscribes to the alert subject and
// returns the connection. The attempt is bounded by both the configured
// connect timeout and ctx.
func (d *Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	timeout := d.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, errors.WrapTransient(ctx.Err(), "Dialer", "Dial", "deadline already expired")
	}

	conn := &dialResult{done: make(chan struct{})}
	go func() {
		defer close(conn.done)
		conn.nc, conn.err = nats.Connect(url,
			nats.Timeout(timeout),
			nats.Name(d.clientName),
			nats.MaxReconnects(0),
			nats.RetryOnFailedConnect(false),
		)
	}()

	select {
	case <-conn.done:
	case <-ctx.Done():
		// The connect goroutine will close any connection it wins after
		// we have already given up on it.
		go func() {
			<-conn.done
			if conn.nc != nil {
				conn.nc.Close()
			}
		}()
		return nil, errors.WrapTransient(ctx.Err(), "Dialer", "Dial", "connect cancelled")
	}

	if conn.err != nil {
		return nil, errors.WrapTransient(conn.err, "Dialer", "Dial", "connect to "+url)
	}

	c := newConn(conn.nc, d.logger, d.chunkDepth)
	conn.nc.SetClosedHandler(func(*nats.Conn) { c.markLost() })
	conn.nc.SetErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
		d.logger.Error("nats async error", "error", err)
	})

	sub, err := conn.nc.Subscribe(d.subject, c.handleMsg)
	if err != nil {
		conn.nc.Close()
		return nil, errors.WrapTransient(err, "Dialer", "Dial", "subscribe to "+d.subject)
	}
	if err := sub.SetPendingLimits(pendingMsgLimit, pendingBytesLimit); err != nil {
		conn.nc.Close()
		return nil, errors.WrapTransient(err, "Dialer", "Dial", "bound pending buffer")
	}
	c.sub = sub

	d.logger.Info("broker connected", "url", url, "subject", d.subject)
	return c, nil
}

type dialResult struct {
	nc   *nats.Conn
	err  error
	done chan struct{}
}
