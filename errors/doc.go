// Package errors defines the error taxonomy shared by every Soundpost
// component and the helpers that keep error messages uniform.
//
// Errors are classified into three handling classes:
//
//   - Transient: broker connect timeouts, lost connections, transport resets.
//     The reconnect loop retries these through the connectivity manager's
//     bookkeeping; they are never fatal.
//   - Invalid: bad length prefixes, out-of-range metadata boundaries, frame
//     decode failures. The current message or queue item is abandoned; the
//     connection and queue are preserved.
//   - Fatal: configuration errors and storage exhaustion. These stop startup
//     or abandon the in-flight message, never crash a running task.
//
// Components wrap errors with context using the standard pattern:
//
//	errors.WrapInvalid(err, "Framer", "Next", "parse length prefix")
//
// which produces "Framer.Next: parse length prefix failed: <cause>" and tags
// the result with its class so the receive loop can decide whether to drop
// the message, reconnect, or stop.
package errors
