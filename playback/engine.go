// Package playback drains the alert queue and renders each staged payload
// to the audio output. Priority orders the queue, an interrupt cuts the
// current item between frames, and playCount 0 repeats until interrupted.
package playback

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"

	"github.com/c360/soundpost/codec"
	"github.com/c360/soundpost/errors"
)

// errItemInterrupted ends the current item without failing the engine
var errItemInterrupted = stderrors.New("item interrupted")

// DecoderFactory builds a fresh decoder for each pass over a payload.
// Opus decoders carry prediction state, so a payload can never be replayed
// through the decoder that already consumed it.
type DecoderFactory func() (codec.Decoder, error)

// Engine plays queued alerts in priority order
type Engine struct {
	queue      *Queue
	out        Output
	cfg        codec.Config
	newDecoder DecoderFactory
	logger     *slog.Logger
	metrics    *Metrics

	mu          sync.Mutex
	state       State
	paused      bool
	resumeCh    chan struct{}
	interrupted bool
	intrCh      chan struct{}
}

// Option configures an Engine
type Option func(*Engine) error

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithMetrics attaches Prometheus metrics
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// New creates an Engine draining queue into out
func New(queue *Queue, out Output, cfg codec.Config, factory DecoderFactory, opts ...Option) (*Engine, error) {
	if queue == nil || out == nil || factory == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"playback", "New", "require queue, output and decoder factory")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		queue:      queue,
		out:        out,
		cfg:        cfg,
		newDecoder: factory,
		logger:     slog.Default(),
		state:      StateIdle,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// State reports the engine's current condition
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// QueueDepth reports pending alerts
func (e *Engine) QueueDepth() int {
	return e.queue.Len()
}

// Interrupt cuts the current item at the next frame boundary. Queued items
// are unaffected.
func (e *Engine) Interrupt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.intrCh != nil && !e.interrupted {
		e.interrupted = true
		close(e.intrCh)
	}
}

// Pause holds playback between frames
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		e.paused = true
		e.resumeCh = make(chan struct{})
	}
}

// Resume releases a pause
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		e.paused = false
		close(e.resumeCh)
	}
}

// Run drains the queue until the context is cancelled or the queue closes
func (e *Engine) Run(ctx context.Context) error {
	defer func() {
		e.setState(StateStopping)
		if err := e.out.Disable(); err != nil {
			e.logger.Warn("disable output failed", slog.String("error", err.Error()))
		}
	}()

	for {
		e.setState(StateIdle)
		if e.metrics != nil {
			e.metrics.queueDepth.Set(float64(e.queue.Len()))
		}

		item, err := e.queue.Dequeue(ctx)
		if err != nil {
			if stderrors.Is(err, errors.ErrQueueClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if err := e.play(ctx, item); err != nil && ctx.Err() != nil {
			e.removeItem(item)
			return ctx.Err()
		}
		e.removeItem(item)
	}
}

func (e *Engine) removeItem(item *Item) {
	if item.Retained {
		return
	}
	if err := item.Payload.Remove(); err != nil {
		e.logger.Warn("remove played payload failed",
			slog.String("path", item.Payload.Path()),
			slog.String("error", err.Error()))
	}
}

// play renders one item for its full repetition count. Decode failures end
// the item and are reported; they never fail the engine.
func (e *Engine) play(ctx context.Context, item *Item) error {
	e.beginItem()
	defer e.endItem()

	if err := e.out.SetVolume(item.Meta.Volume); err != nil {
		e.logger.Warn("set volume failed", slog.String("error", err.Error()))
	}
	if err := e.out.Enable(); err != nil {
		e.logger.Error("enable output failed", slog.String("error", err.Error()))
		return err
	}

	e.logger.Info("playback started",
		slog.Int("priority", item.Meta.Priority),
		slog.Int("volume", item.Meta.Volume),
		slog.Int("play_count", item.Meta.PlayCount),
		slog.Int("payload_bytes", item.Meta.OpusDataSize))

	for rep := 0; item.Meta.PlayCount == 0 || rep < item.Meta.PlayCount; rep++ {
		err := e.playOnce(ctx, item)
		if err == nil {
			continue
		}
		if stderrors.Is(err, errItemInterrupted) {
			if e.metrics != nil {
				e.metrics.itemsInterrupted.Inc()
			}
			e.logger.Info("playback interrupted", slog.Int("repetition", rep))
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.decodeFailures.Inc()
		}
		e.setState(StateStopping)
		e.logger.Error("playback aborted",
			slog.Int("repetition", rep),
			slog.String("error", err.Error()))
		return err
	}

	if e.metrics != nil {
		e.metrics.itemsPlayed.Inc()
	}
	e.logger.Info("playback finished")
	return nil
}

// playOnce streams the payload through a fresh decoder to the output
func (e *Engine) playOnce(ctx context.Context, item *Item) error {
	r, err := item.Payload.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	dec, err := e.newDecoder()
	if err != nil {
		return err
	}

	ogg := codec.NewOggReader(r)
	pcm := make([]int16, codec.MaxFrameSamples*e.cfg.DecodeChannels)

	var frame []int16
	expand := e.cfg.OutputChannels > e.cfg.DecodeChannels
	if expand {
		frame = make([]int16, codec.MaxFrameSamples*e.cfg.OutputChannels)
	}

	for {
		if err := e.gate(ctx); err != nil {
			return err
		}

		packet, err := ogg.Next()
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		samples, err := dec.Decode(packet, pcm)
		if err != nil {
			return err
		}
		if samples == 0 {
			continue
		}

		out := pcm[:samples*e.cfg.DecodeChannels]
		if expand {
			// Allocation and duplication stay symmetric: mono samples
			// are duplicated only when the output is wider than the
			// decode, into a buffer sized for exactly that.
			n := e.duplicate(out, frame, samples)
			out = frame[:n]
		}

		if err := e.out.Write(out); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.framesWritten.Inc()
		}
	}
}

// duplicate spreads decoded samples across the wider output frame
func (e *Engine) duplicate(in, dst []int16, samples int) int {
	ratio := e.cfg.OutputChannels / e.cfg.DecodeChannels
	idx := 0
	for s := 0; s < samples; s++ {
		for c := 0; c < e.cfg.DecodeChannels; c++ {
			v := in[s*e.cfg.DecodeChannels+c]
			for r := 0; r < ratio; r++ {
				dst[idx] = v
				idx++
			}
		}
	}
	return idx
}

// gate blocks while paused and surfaces interrupts between frames
func (e *Engine) gate(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.interrupted {
			e.mu.Unlock()
			return errItemInterrupted
		}
		if !e.paused {
			e.state = StatePlaying
			e.mu.Unlock()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}
		e.state = StatePaused
		resume := e.resumeCh
		intr := e.intrCh
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resume:
		case <-intr:
		}
	}
}

func (e *Engine) beginItem() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.interrupted = false
	e.intrCh = make(chan struct{})
	e.state = StatePlaying
}

func (e *Engine) endItem() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.intrCh = nil
	e.interrupted = false
	// An aborted item leaves the engine in Stopping until the run loop
	// turns over; a finished one goes straight back to Idle.
	if e.state != StateStopping {
		e.state = StateIdle
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}
