package natstream

import (
	"bytes"
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/soundpost/errors"
)

// announcePrefix marks a control message carrying the advertised total
// envelope length in ASCII decimal, e.g. "ALRT 61142". Every other message
// on the alert subject is a raw chunk of the current envelope stream.
const announcePrefix = "ALRT "

// Conn adapts a NATS connection into the chunked byte-stream contract of
// transport.Conn. The control server publishes an announcement followed by
// the envelope bytes split across chunk messages; chunks are concatenated
// in arrival order into one logical stream.
type Conn struct {
	nc  *nats.Conn
	sub *nats.Subscription

	announces chan int
	chunks    chan []byte
	pending   []byte // unread remainder of the chunk currently being drained

	closed    chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func newConn(nc *nats.Conn, logger *slog.Logger, chunkDepth int) *Conn {
	return &Conn{
		nc:        nc,
		announces: make(chan int, 1),
		chunks:    make(chan []byte, chunkDepth),
		closed:    make(chan struct{}),
		logger:    logger,
	}
}

// handleMsg dispatches one inbound NATS message. Chunk delivery blocks when
// the chunk channel is full, which stalls this subscription's dispatcher;
// further inbound messages then queue in the subscription's pending buffer
// up to its configured limits and shed as slow-consumer errors past them,
// so a stalled reader holds at most pendingBytesLimit of payload in RAM.
func (c *Conn) handleMsg(m *nats.Msg) {
	if bytes.HasPrefix(m.Data, []byte(announcePrefix)) {
		n, ok := parseAnnounce(m.Data)
		if !ok {
			// A malformed announcement must not be mistaken for payload
			// bytes or the stream alignment is lost.
			c.logger.Warn("dropping malformed announcement", "payload", string(m.Data))
			return
		}
		select {
		case c.announces <- n:
		case <-c.closed:
		default:
			// A second announcement before the previous message finished
			// means the peer violated the protocol; drop it and log.
			c.logger.Warn("dropping overlapping announcement", "length", n)
		}
		return
	}

	select {
	case c.chunks <- m.Data:
	case <-c.closed:
	}
}

// markLost is invoked by the NATS closed handler when the underlying
// connection is gone for good. It releases any blocked Announce/Read.
func (c *Conn) markLost() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Announce blocks until the next inbound message announcement arrives and
// returns the advertised total envelope length.
func (c *Conn) Announce(ctx context.Context) (int, error) {
	select {
	case n := <-c.announces:
		return n, nil
	case <-c.closed:
		return 0, errors.ErrConnectionLost
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Read reads up to len(p) bytes of the current envelope stream. It returns
// a short read whenever a chunk boundary falls inside p; the framer loops
// until it has consumed the advertised byte count.
func (c *Conn) Read(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if len(c.pending) == 0 {
		select {
		case chunk := <-c.chunks:
			c.pending = chunk
		case <-c.closed:
			return 0, errors.ErrConnectionLost
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Publish sends data on the given subject over the same connection.
func (c *Conn) Publish(_ context.Context, subject string, data []byte) error {
	select {
	case <-c.closed:
		return errors.ErrConnectionLost
	default:
	}
	if err := c.nc.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Conn", "Publish", "publish message")
	}
	return nil
}

// Close unsubscribes and closes the underlying NATS connection.
func (c *Conn) Close(_ context.Context) error {
	c.markLost()

	var errs []error
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil && !errors.IsTransient(err) {
			errs = append(errs, err)
		}
		c.sub = nil
	}
	if c.nc != nil {
		c.nc.Close()
		c.nc = nil
	}
	if len(errs) > 0 {
		return errors.Wrap(errs[0], "Conn", "Close", "unsubscribe")
	}
	return nil
}

func parseAnnounce(data []byte) (int, bool) {
	if !bytes.HasPrefix(data, []byte(announcePrefix)) {
		return 0, false
	}
	n, err := strconv.Atoi(string(data[len(announcePrefix):]))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Announcement renders the announce control message for a payload of the
// given total length. Used by publisher tooling.
func Announcement(totalLen int) []byte {
	return []byte(announcePrefix + strconv.Itoa(totalLen))
}
