package console

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/soundpost/errors"
)

// Server subscribes the command handler to a broker subject. Unlike the
// alert link, the console rides the client library's own reconnect logic;
// losing it briefly costs nothing.
type Server struct {
	url     string
	subject string
	handler *Handler
	logger  *slog.Logger
	timeout time.Duration

	nc  *nats.Conn
	sub *nats.Subscription
}

// ServerOption configures a Server
type ServerOption func(*Server) error

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithConnectTimeout bounds the initial connect
func WithConnectTimeout(d time.Duration) ServerOption {
	return func(s *Server) error {
		s.timeout = d
		return nil
	}
}

// NewServer creates a console server for the given broker URL and subject
func NewServer(url, subject string, handler *Handler, opts ...ServerOption) (*Server, error) {
	if url == "" || subject == "" || handler == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"console", "NewServer", "require url, subject and handler")
	}

	s := &Server{
		url:     url,
		subject: subject,
		handler: handler,
		logger:  slog.Default(),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start connects and subscribes. It returns once the subscription is live.
func (s *Server) Start(ctx context.Context) error {
	type result struct {
		nc  *nats.Conn
		err error
	}
	done := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(s.url,
			nats.Name("soundpost-console"),
			nats.Timeout(s.timeout),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.RetryOnFailedConnect(true))
		done <- result{nc: nc, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.nc != nil {
				r.nc.Close()
			}
		}()
		return ctx.Err()
	case r := <-done:
		if r.err != nil {
			return errors.WrapTransient(r.err, "console", "Start", "connect to broker")
		}
		s.nc = r.nc
	}

	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		reply := s.handler.Handle(string(msg.Data))
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond([]byte(reply)); err != nil {
			s.logger.Warn("console reply failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		s.nc.Close()
		s.nc = nil
		return errors.WrapTransient(err, "console", "Start", "subscribe to console subject")
	}
	s.sub = sub

	s.logger.Info("console listening", slog.String("subject", s.subject))
	return nil
}

// Stop unsubscribes and closes the connection
func (s *Server) Stop() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
		s.sub = nil
	}
	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
}
