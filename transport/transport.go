// Package transport defines the broker transport contracts the connectivity
// manager and framer operate on. A Conn is bound to exactly one broker
// endpoint at a time and delivers each alert message as an announcement of
// its total length followed by a chunked byte stream.
package transport

import "context"

// Conn is a connection to one broker endpoint. Implementations deliver
// inbound alert messages as an announcement carrying the advertised total
// envelope length followed by the envelope bytes in arbitrarily sized
// chunks. Reads are blocking and may return fewer bytes than requested;
// the caller owns byte accounting.
//
// A Conn is not safe for concurrent readers: the receive task is the only
// consumer of Announce and Read.
type Conn interface {
	// Announce blocks until the broker announces the next inbound message
	// and returns its advertised total envelope length in bytes.
	Announce(ctx context.Context) (int, error)

	// Read reads up to len(p) bytes of the current message stream into p.
	// It returns the number of bytes read; short reads are routine and do
	// not indicate an error. Read never crosses into bytes of a message
	// that has not been announced.
	Read(ctx context.Context, p []byte) (int, error)

	// Publish sends data on the given subject over the same connection.
	// Used for status and acknowledgement traffic, not for the alert path.
	Publish(ctx context.Context, subject string, data []byte) error

	// Close tears down the connection. Safe to call more than once.
	Close(ctx context.Context) error
}

// Dialer establishes connections to a broker endpoint given its URL.
// The connectivity manager decides which endpoint URL to dial; the dialer
// must work over whichever network interface carries the default route.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}
