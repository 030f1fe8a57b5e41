package testutil

import (
	"context"
	"sync"

	"github.com/c360/soundpost/transport"
)

// DialResult is one scripted outcome for ScriptDialer.Dial
type DialResult struct {
	Conn transport.Conn
	Err  error
}

// ScriptDialer returns pre-scripted results in order, recording every URL
// dialed. When the script runs out it keeps returning the last result.
type ScriptDialer struct {
	mu      sync.Mutex
	results []DialResult
	urls    []string
}

var _ transport.Dialer = (*ScriptDialer)(nil)

// Script appends an outcome to the dial script
func (d *ScriptDialer) Script(conn transport.Conn, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, DialResult{Conn: conn, Err: err})
}

// Dial pops the next scripted result
func (d *ScriptDialer) Dial(_ context.Context, url string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if len(d.results) == 0 {
		return nil, context.DeadlineExceeded
	}
	r := d.results[0]
	if len(d.results) > 1 {
		d.results = d.results[1:]
	}
	return r.Conn, r.Err
}

// DialedURLs returns a copy of every URL passed to Dial
func (d *ScriptDialer) DialedURLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.urls))
	copy(out, d.urls)
	return out
}
