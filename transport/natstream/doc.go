// Package natstream implements the transport contracts over NATS.
//
// Alert delivery uses one subject per device. The control server first
// publishes an announcement message ("ALRT <total length>"), then the
// envelope bytes as a sequence of chunk messages. The Conn concatenates the
// chunks in arrival order into a single logical byte stream with the same
// short-read semantics as a socket: a Read returns at most one chunk's
// remaining bytes, and the framer is responsible for byte accounting.
//
// Auto-reconnect is deliberately disabled on the underlying NATS client so
// connection loss surfaces to the connectivity manager, which owns the
// primary/fallback failover decision.
package natstream
