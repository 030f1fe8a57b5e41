// Package testutil provides in-memory fakes for the transport and audio
// boundaries, used across component tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/c360/soundpost/errors"
	"github.com/c360/soundpost/transport"
)

// ScriptConn is an in-memory transport.Conn fed with pre-scripted messages.
// Each message is announced with its total length and then served to Read in
// chunks of at most ChunkSize bytes, reproducing the short-read behavior of
// a real broker link. ChunkSize 0 serves whatever the caller's buffer holds.
type ScriptConn struct {
	// ChunkSize caps how many bytes a single Read returns
	ChunkSize int

	// FailAfter, when >0, makes Read return FailErr once that many total
	// bytes have been served, simulating a mid-stream disconnect.
	FailAfter int
	FailErr   error

	mu       sync.Mutex
	messages [][]byte
	current  []byte
	served   int
	closed   bool

	// Published records Publish calls for assertions
	Published []PublishedMsg
}

// PublishedMsg is one captured Publish call
type PublishedMsg struct {
	Subject string
	Data    []byte
}

var _ transport.Conn = (*ScriptConn)(nil)

// Script queues a complete message for delivery
func (c *ScriptConn) Script(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// Announce returns the total length of the next scripted message. With no
// message pending it blocks like a real link, waking when one is scripted
// or the context ends.
func (c *ScriptConn) Announce(ctx context.Context) (int, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return 0, errors.ErrConnectionLost
		}
		if len(c.messages) > 0 {
			c.current = c.messages[0]
			c.messages = c.messages[1:]
			n := len(c.current)
			c.mu.Unlock()
			return n, nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// Read serves the current message in chunks, honoring FailAfter
func (c *ScriptConn) Read(_ context.Context, p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, errors.ErrConnectionLost
	}
	if c.FailAfter > 0 && c.served >= c.FailAfter {
		if c.FailErr != nil {
			return 0, c.FailErr
		}
		return 0, errors.ErrConnectionLost
	}
	if len(c.current) == 0 {
		return 0, errors.ErrShortMessage
	}

	n := len(p)
	if c.ChunkSize > 0 && n > c.ChunkSize {
		n = c.ChunkSize
	}
	if n > len(c.current) {
		n = len(c.current)
	}
	if c.FailAfter > 0 && c.served+n > c.FailAfter {
		n = c.FailAfter - c.served
	}

	copy(p, c.current[:n])
	c.current = c.current[n:]
	c.served += n
	return n, nil
}

// Publish records the call
func (c *ScriptConn) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.ErrConnectionLost
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.Published = append(c.Published, PublishedMsg{Subject: subject, Data: cp})
	return nil
}

// Close marks the connection closed
func (c *ScriptConn) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Remaining reports how many bytes of the current message are unserved
func (c *ScriptConn) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.current)
}
