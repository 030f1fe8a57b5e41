// Command soundpostd runs the alerting speaker service: it maintains the
// broker link with primary/fallback failover, stages incoming alert
// payloads, and plays them in priority order.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/c360/soundpost/codec"
	"github.com/c360/soundpost/config"
	"github.com/c360/soundpost/metric"
	"github.com/c360/soundpost/playback"
	"github.com/c360/soundpost/service"
)

func main() {
	configPath := flag.String("config", "/etc/soundpost/soundpost.yaml", "path to configuration file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "emit JSON logs")
	flag.Parse()

	logger := buildLogger(*logLevel, *logJSON)
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var registry *metric.Registry
	if cfg.Metrics.Enabled {
		registry = metric.NewRegistry()
	}

	audio := codec.Config{
		SampleRateHz:   cfg.Audio.SampleRateHz,
		FrameMs:        cfg.Audio.FrameMs,
		DecodeChannels: codec.DefaultDecodeChannels,
		OutputChannels: cfg.Audio.OutputChannels,
	}
	factory := func() (codec.Decoder, error) {
		return codec.NewOpusDecoder(audio)
	}

	out := newPacedSink(logger, time.Duration(cfg.Audio.FrameMs)*time.Millisecond)

	svc, err := service.New(cfg, out, factory,
		service.WithLogger(logger),
		service.WithRegistry(registry))
	if err != nil {
		return err
	}
	if err := svc.Initialize(); err != nil {
		return err
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", registry.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintln(w, svc.Status().JSON())
		})
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("metrics listening", slog.String("addr", cfg.Metrics.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			reloaded, err := config.Load(configPath)
			if err == nil {
				err = svc.UpdateConfig(reloaded)
			}
			if err != nil {
				logger.Warn("config reload failed", slog.String("error", err.Error()))
			}
		}
	}()

	<-ctx.Done()
	signal.Stop(hup)
	logger.Info("shutting down")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return svc.Stop(10 * time.Second)
}

func buildLogger(level string, asJSON bool) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// pacedSink is the default output when no platform audio device is wired
// in. It consumes frames at real-time pace so queueing, interrupts and
// repeats behave as they would against hardware.
type pacedSink struct {
	logger   *slog.Logger
	frameDur time.Duration
	volume   atomic.Int64
	enabled  atomic.Bool
}

var _ playback.Output = (*pacedSink)(nil)

func newPacedSink(logger *slog.Logger, frameDur time.Duration) *pacedSink {
	return &pacedSink{logger: logger, frameDur: frameDur}
}

func (s *pacedSink) Enable() error {
	if !s.enabled.Swap(true) {
		s.logger.Debug("audio output enabled")
	}
	return nil
}

func (s *pacedSink) Disable() error {
	if s.enabled.Swap(false) {
		s.logger.Debug("audio output disabled")
	}
	return nil
}

func (s *pacedSink) SetVolume(level int) error {
	s.volume.Store(int64(level))
	return nil
}

func (s *pacedSink) Write(frame []int16) error {
	if !s.enabled.Load() {
		return fmt.Errorf("write on disabled output")
	}
	time.Sleep(s.frameDur)
	return nil
}
