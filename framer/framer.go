// Package framer reassembles alert envelopes from a broker connection. It
// drives the connection through announce and read, validates the envelope
// boundaries before any arithmetic on them, and spools the Opus payload to a
// staged file. On a malformed envelope it drains every advertised byte so
// the stream stays aligned for the next announcement.
package framer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/soundpost/envelope"
	"github.com/c360/soundpost/errors"
	"github.com/c360/soundpost/staging"
	"github.com/c360/soundpost/transport"
)

// DefaultBufferSize is the working buffer for reads off the connection
const DefaultBufferSize = 512

// Alert is one fully staged message ready for the playback queue
type Alert struct {
	Meta    envelope.Metadata
	Payload *staging.Payload
}

// Framer reads complete alerts off a connection
type Framer struct {
	store   *staging.Store
	bufSize int
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures a Framer
type Option func(*Framer) error

// WithBufferSize sets the working read buffer size
func WithBufferSize(n int) Option {
	return func(f *Framer) error {
		if n < envelope.PrefixLen {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"framer", "WithBufferSize", fmt.Sprintf("accept buffer size %d", n))
		}
		f.bufSize = n
		return nil
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(f *Framer) error {
		f.logger = logger
		return nil
	}
}

// WithMetrics attaches Prometheus metrics
func WithMetrics(m *Metrics) Option {
	return func(f *Framer) error {
		f.metrics = m
		return nil
	}
}

// New creates a Framer staging payloads into store
func New(store *staging.Store, opts ...Option) (*Framer, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"framer", "New", "require staging store")
	}

	f := &Framer{
		store:   store,
		bufSize: DefaultBufferSize,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Next blocks for the next announced message and returns it fully staged.
// Invalid-class errors mean the message was malformed and has been drained;
// the connection is still usable. Any other error means the connection is
// gone and the caller should reconnect.
func (f *Framer) Next(ctx context.Context, conn transport.Conn) (*Alert, error) {
	total, err := conn.Announce(ctx)
	if err != nil {
		return nil, err
	}
	if f.metrics != nil {
		f.metrics.messagesAnnounced.Inc()
	}

	alert, consumed, err := f.readMessage(ctx, conn, total)
	if err != nil {
		if errors.IsInvalid(err) {
			if f.metrics != nil {
				f.metrics.framingErrors.Inc()
			}
			f.logger.Warn("malformed alert dropped",
				slog.Int("announced_bytes", total),
				slog.Int("consumed_bytes", consumed),
				slog.String("error", err.Error()))
			if derr := f.drain(ctx, conn, total-consumed); derr != nil {
				return nil, derr
			}
			return nil, err
		}
		return nil, err
	}

	if f.metrics != nil {
		f.metrics.messagesStaged.Inc()
		f.metrics.payloadBytes.Add(float64(alert.Payload.BytesWritten()))
	}
	f.logger.Debug("alert staged",
		slog.Int("payload_bytes", alert.Payload.BytesWritten()),
		slog.Int("priority", alert.Meta.Priority))
	return alert, nil
}

// readMessage consumes one announced message. It reports how many bytes it
// consumed so the caller can drain the remainder after a framing error.
func (f *Framer) readMessage(ctx context.Context, conn transport.Conn, total int) (*Alert, int, error) {
	consumed := 0

	if total < envelope.PrefixLen+1 {
		return nil, consumed, errors.WrapInvalid(errors.ErrShortMessage,
			"framer", "readMessage", fmt.Sprintf("accept %d-byte announcement", total))
	}

	prefix := make([]byte, envelope.PrefixLen)
	n, err := f.readFull(ctx, conn, prefix)
	consumed += n
	if err != nil {
		return nil, consumed, err
	}

	metaLen, err := envelope.ParsePrefix(prefix)
	if err != nil {
		return nil, consumed, err
	}
	if err := envelope.ValidateBoundaries(total, metaLen); err != nil {
		return nil, consumed, err
	}

	metaBuf := make([]byte, metaLen)
	n, err = f.readFull(ctx, conn, metaBuf)
	consumed += n
	if err != nil {
		return nil, consumed, err
	}

	meta, err := envelope.ParseMetadata(metaBuf)
	if err != nil {
		return nil, consumed, err
	}
	if err := envelope.CheckPayloadSize(meta, total, metaLen); err != nil {
		return nil, consumed, err
	}

	payloadLen := envelope.PayloadSize(total, metaLen)
	payload, err := f.store.Create(payloadLen)
	if err != nil {
		return nil, consumed, err
	}

	n, err = f.stage(ctx, conn, payload, payloadLen)
	consumed += n
	if err != nil {
		_ = payload.Remove()
		return nil, consumed, err
	}

	if err := payload.Complete(); err != nil {
		_ = payload.Remove()
		return nil, consumed, err
	}

	return &Alert{Meta: meta, Payload: payload}, consumed, nil
}

// stage streams payloadLen bytes from the connection into the staged file
// through the working buffer.
func (f *Framer) stage(ctx context.Context, conn transport.Conn, payload *staging.Payload, payloadLen int) (int, error) {
	buf := make([]byte, f.bufSize)
	consumed := 0

	for consumed < payloadLen {
		want := payloadLen - consumed
		if want > len(buf) {
			want = len(buf)
		}
		n, err := conn.Read(ctx, buf[:want])
		if n > 0 {
			if _, werr := payload.Write(buf[:n]); werr != nil {
				return consumed + n, werr
			}
			consumed += n
		}
		if err != nil {
			return consumed, err
		}
	}
	return consumed, nil
}

// readFull reads exactly len(dst) bytes, tolerating short reads
func (f *Framer) readFull(ctx context.Context, conn transport.Conn, dst []byte) (int, error) {
	read := 0
	for read < len(dst) {
		n, err := conn.Read(ctx, dst[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

// drain discards remaining bytes of a malformed message so the next
// announcement starts on a message boundary.
func (f *Framer) drain(ctx context.Context, conn transport.Conn, remaining int) error {
	if remaining <= 0 {
		return nil
	}

	buf := make([]byte, f.bufSize)
	drained := 0
	for drained < remaining {
		want := remaining - drained
		if want > len(buf) {
			want = len(buf)
		}
		n, err := conn.Read(ctx, buf[:want])
		drained += n
		if err != nil {
			return err
		}
	}

	if f.metrics != nil {
		f.metrics.drainedBytes.Add(float64(drained))
	}
	return nil
}
