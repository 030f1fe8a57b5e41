// Package retry provides exponential backoff retry logic and the escalating
// delay schedule used by the broker reconnect loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config provides retry configuration
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (0 = run once)
	InitialDelay time.Duration // Initial delay between attempts
	MaxDelay     time.Duration // Maximum delay between attempts
	Multiplier   float64       // Backoff multiplier (typically 2.0)
	AddJitter    bool          // Add randomness to prevent thundering herd
}

// DefaultConfig returns sensible defaults for retry operations
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Reconnect returns the broker reconnect schedule configuration: 5s initial
// delay, doubled per attempt, capped at 60s, retrying forever. MaxAttempts is
// ignored by Schedule; it is set here so the same config works with Do.
func Reconnect() Config {
	return Config{
		MaxAttempts:  1,
		InitialDelay: 5 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	return c
}

func (c Config) jittered(delay time.Duration) time.Duration {
	if !c.AddJitter || delay <= 0 {
		return delay
	}
	// Up to 25% jitter
	randMu.Lock()
	jitter := time.Duration(randSource.Int63n(int64(delay/4) + 1))
	randMu.Unlock()
	return delay + jitter
}

func (c Config) advance(delay time.Duration) time.Duration {
	next := time.Duration(float64(delay) * c.Multiplier)
	if next > c.MaxDelay || next < delay {
		return c.MaxDelay
	}
	return next
}

// Do executes fn with exponential backoff retry
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		if err := sleep(ctx, cfg.jittered(delay)); err != nil {
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, err)
		}
		delay = cfg.advance(delay)
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// Schedule is a stateful escalating delay for open-ended reconnect loops.
// Unlike Do it never gives up; the caller decides when to stop. The delay
// escalates per Wait and resets to the initial delay on Reset. The broker
// reconnect loop resets it whenever the active endpoint flips.
type Schedule struct {
	cfg  Config
	next time.Duration
}

// NewSchedule creates a schedule from the given config
func NewSchedule(cfg Config) *Schedule {
	cfg = cfg.withDefaults()
	return &Schedule{cfg: cfg, next: cfg.InitialDelay}
}

// NextDelay returns the delay the next Wait will use
func (s *Schedule) NextDelay() time.Duration {
	return s.next
}

// Wait sleeps for the current delay, honoring context cancellation, then
// escalates the delay for the following call.
func (s *Schedule) Wait(ctx context.Context) error {
	d := s.cfg.jittered(s.next)
	s.next = s.cfg.advance(s.next)
	return sleep(ctx, d)
}

// Reset returns the schedule to its initial delay
func (s *Schedule) Reset() {
	s.next = s.cfg.InitialDelay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
