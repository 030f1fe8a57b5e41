// Package service wires broker connectivity, message framing, staging and
// playback into one runnable unit with an Initialize, Start, Stop lifecycle.
package service

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/soundpost/broker"
	"github.com/c360/soundpost/codec"
	"github.com/c360/soundpost/config"
	"github.com/c360/soundpost/console"
	"github.com/c360/soundpost/envelope"
	"github.com/c360/soundpost/errors"
	"github.com/c360/soundpost/framer"
	"github.com/c360/soundpost/health"
	"github.com/c360/soundpost/metric"
	"github.com/c360/soundpost/pkg/retry"
	"github.com/c360/soundpost/playback"
	"github.com/c360/soundpost/staging"
	"github.com/c360/soundpost/transport"
	"github.com/c360/soundpost/transport/natstream"
)

// Service is the assembled alerting speaker core
type Service struct {
	cfg      *config.SafeConfig
	out      playback.Output
	factory  playback.DecoderFactory
	logger   *slog.Logger
	registry *metric.Registry
	dialer   transport.Dialer

	manager *broker.Manager
	store   *staging.Store
	framer  *framer.Framer
	queue   *playback.Queue
	engine  *playback.Engine
	console *console.Server

	connected atomic.Bool
	started   time.Time

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Option configures a Service
type Option func(*Service) error

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		s.logger = logger
		return nil
	}
}

// WithRegistry attaches a metrics registry
func WithRegistry(registry *metric.Registry) Option {
	return func(s *Service) error {
		s.registry = registry
		return nil
	}
}

// WithDialer overrides the transport dialer, used by tests
func WithDialer(dialer transport.Dialer) Option {
	return func(s *Service) error {
		s.dialer = dialer
		return nil
	}
}

// New creates a Service from configuration. The audio output and decoder
// factory come from the caller so the core stays portable across devices.
func New(cfg *config.Config, out playback.Output, factory playback.DecoderFactory, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"service", "New", "require configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if out == nil || factory == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"service", "New", "require output and decoder factory")
	}

	s := &Service{
		cfg:     config.NewSafeConfig(cfg),
		out:     out,
		factory: factory,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Initialize builds every component and sweeps stale staging files
func (s *Service) Initialize() error {
	cfg := s.cfg.Get()

	store, err := staging.NewStore(cfg.Staging.Dir,
		staging.WithMaxPayloadBytes(cfg.Staging.MaxPayloadBytes),
		staging.WithStoreLogger(s.logger))
	if err != nil {
		return err
	}
	if _, err := store.Sweep(); err != nil {
		return err
	}
	s.store = store

	if s.dialer == nil {
		dialer, err := natstream.NewDialer(cfg.AlertSubject(),
			natstream.WithClientName("soundpost-"+cfg.Device),
			natstream.WithConnectTimeout(cfg.Broker.ConnectTimeout.Std()),
			natstream.WithLogger(s.logger))
		if err != nil {
			return err
		}
		s.dialer = dialer
	}

	primary := broker.Endpoint{Host: cfg.Broker.Primary.Host, Port: cfg.Broker.Primary.Port}
	fallback := broker.Endpoint{Host: cfg.Broker.Fallback.Host, Port: cfg.Broker.Fallback.Port}
	manager, err := broker.NewManager(primary, fallback, s.dialer,
		broker.WithFailoverThreshold(cfg.Broker.FailoverThreshold),
		broker.WithConnectTimeout(cfg.Broker.ConnectTimeout.Std()),
		broker.WithLogger(s.logger),
		broker.WithMetrics(broker.NewMetrics(s.registry)))
	if err != nil {
		return err
	}
	s.manager = manager

	fr, err := framer.New(s.store,
		framer.WithLogger(s.logger),
		framer.WithMetrics(framer.NewMetrics(s.registry)))
	if err != nil {
		return err
	}
	s.framer = fr

	queue, err := playback.NewQueue(cfg.Queue.Capacity)
	if err != nil {
		return err
	}
	s.queue = queue

	audio := codec.Config{
		SampleRateHz:   cfg.Audio.SampleRateHz,
		FrameMs:        cfg.Audio.FrameMs,
		DecodeChannels: codec.DefaultDecodeChannels,
		OutputChannels: cfg.Audio.OutputChannels,
	}
	engine, err := playback.New(queue, s.out, audio, s.factory,
		playback.WithLogger(s.logger),
		playback.WithMetrics(playback.NewMetrics(s.registry)))
	if err != nil {
		return err
	}
	s.engine = engine

	if cfg.Console.Enabled {
		handler, err := console.NewHandler(s)
		if err != nil {
			return err
		}
		srv, err := console.NewServer(
			broker.Endpoint{Host: cfg.Broker.Primary.Host, Port: cfg.Broker.Primary.Port}.URL(),
			cfg.ConsoleSubject(), handler,
			console.WithLogger(s.logger),
			console.WithConnectTimeout(cfg.Broker.ConnectTimeout.Std()))
		if err != nil {
			return err
		}
		s.console = srv
	}

	return nil
}

// Start launches the receive loop and the playback engine
func (s *Service) Start(ctx context.Context) error {
	if s.manager == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"service", "Start", "start before Initialize")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = time.Now()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.receiveLoop(gctx) })
	g.Go(func() error { return s.engine.Run(gctx) })
	s.group = g

	if s.console != nil {
		if err := s.console.Start(ctx); err != nil {
			s.logger.Warn("console unavailable", slog.String("error", err.Error()))
		}
	}

	cfg := s.cfg.Get()
	s.logger.Info("service started",
		slog.String("device", cfg.Device),
		slog.String("primary", cfg.Broker.Primary.Host),
		slog.String("fallback", cfg.Broker.Fallback.Host))
	return nil
}

// Stop cancels the workers and waits up to timeout for them to settle,
// then removes whatever was still queued.
func (s *Service) Stop(timeout time.Duration) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()

	var waitErr error
	select {
	case err := <-done:
		if err != nil && !stderrors.Is(err, context.Canceled) {
			waitErr = err
		}
	case <-time.After(timeout):
		waitErr = errors.WrapTransient(context.DeadlineExceeded,
			"service", "Stop", "wait for workers")
	}

	s.queue.Close()
	for _, item := range s.queue.Drain() {
		if !item.Retained {
			_ = item.Payload.Remove()
		}
	}
	if s.console != nil {
		s.console.Stop()
	}

	s.logger.Info("service stopped")
	return waitErr
}

// receiveLoop owns the broker connection: connect, consume until the link
// dies, report the outcome, back off, repeat. A failover flip resets the
// backoff so the other endpoint gets a prompt first try.
func (s *Service) receiveLoop(ctx context.Context) error {
	cfg := s.cfg.Get()
	rc := retry.Reconnect()
	rc.InitialDelay = cfg.Broker.ReconnectMin.Std()
	rc.MaxDelay = cfg.Broker.ReconnectMax.Std()
	schedule := retry.NewSchedule(rc)

	for ctx.Err() == nil {
		conn, err := s.manager.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			flipped := s.manager.ReportFailure()
			if flipped {
				schedule.Reset()
			}
			s.logger.Warn("broker connect failed",
				slog.String("error", err.Error()),
				slog.Bool("failover", flipped),
				slog.Duration("retry_in", schedule.NextDelay()))
			if err := schedule.Wait(ctx); err != nil {
				break
			}
			continue
		}

		s.manager.ReportSuccess()
		schedule.Reset()
		s.connected.Store(true)
		s.logger.Info("broker connected",
			slog.String("endpoint", s.manager.Current().String()))

		s.consume(ctx, conn)
		s.connected.Store(false)
	}
	return ctx.Err()
}

// consume frames alerts off one connection until it fails
func (s *Service) consume(ctx context.Context, conn transport.Conn) {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	for {
		alert, err := s.framer.Next(ctx, conn)
		if err != nil {
			// A malformed envelope was drained in place; keep reading
			if errors.IsInvalid(err) {
				continue
			}
			if ctx.Err() == nil {
				s.logger.Warn("broker link lost", slog.String("error", err.Error()))
			}
			return
		}
		s.handleAlert(alert)
	}
}

// handleAlert routes one staged alert into the playback queue
func (s *Service) handleAlert(alert *framer.Alert) {
	item := &playback.Item{Meta: alert.Meta, Payload: alert.Payload}

	if alert.Meta.SaveToFile {
		if _, err := s.store.Retain(alert.Payload, alert.Meta.Filename); err != nil {
			s.logger.Warn("retain payload failed", slog.String("error", err.Error()))
		} else {
			item.Retained = true
		}
	}

	head, err := s.queue.Enqueue(item)
	if err != nil {
		s.logger.Warn("alert dropped",
			slog.String("error", err.Error()),
			slog.Int("priority", alert.Meta.Priority))
		if !item.Retained {
			_ = alert.Payload.Remove()
		}
		return
	}

	// An interrupt directive only cuts the current item when the new alert
	// is next in line; otherwise a higher-priority item is already waiting
	// and preempting would skip it.
	if head && alert.Meta.InterruptCurrent {
		s.engine.Interrupt()
	}

	s.logger.Info("alert queued",
		slog.Int("priority", alert.Meta.Priority),
		slog.Bool("head", head),
		slog.Bool("interrupt", alert.Meta.InterruptCurrent),
		slog.Int("queue_depth", s.queue.Len()))
}

// Status implements the console controller
func (s *Service) Status() health.Status {
	snap := s.manager.Snapshot()
	return health.Status{
		Device:        s.cfg.Get().Device,
		UptimeSeconds: health.Uptime(s.started),
		Broker: health.BrokerStatus{
			ActiveEndpoint:      s.manager.Current().String(),
			ActiveRole:          snap.Active.String(),
			Connected:           s.connected.Load(),
			ConsecutiveFailures: snap.ConsecutiveFailures,
			TotalAttempts:       snap.TotalAttempts,
		},
		Playback: health.PlaybackStatus{
			State:      s.engine.State().String(),
			QueueDepth: s.queue.Len(),
		},
	}
}

// Config returns a copy of the current configuration
func (s *Service) Config() *config.Config {
	return s.cfg.Get()
}

// UpdateConfig validates and swaps the running configuration, as on a
// SIGHUP reload. Components wired at Initialize (staging dir, queue
// capacity, audio profile) keep their original values until the service
// is rebuilt; status reporting reads the new values immediately.
func (s *Service) UpdateConfig(cfg *config.Config) error {
	if err := s.cfg.Update(cfg); err != nil {
		return err
	}
	s.logger.Info("configuration updated")
	return nil
}

// Play implements the console controller: it queues a previously retained
// payload for another playback. The saved file is never removed.
func (s *Service) Play(filename string) error {
	payload, err := s.store.OpenSaved(filename)
	if err != nil {
		return err
	}

	item := &playback.Item{
		Meta: envelope.Metadata{
			OpusDataSize: payload.ExpectedLen(),
			Priority:     envelope.DefaultPriority,
			Volume:       envelope.DefaultVolume,
			PlayCount:    1,
		},
		Payload:  payload,
		Retained: true,
	}
	_, err = s.queue.Enqueue(item)
	return err
}

// Interrupt implements the console controller
func (s *Service) Interrupt() { s.engine.Interrupt() }

// Pause implements the console controller
func (s *Service) Pause() { s.engine.Pause() }

// Resume implements the console controller
func (s *Service) Resume() { s.engine.Resume() }
