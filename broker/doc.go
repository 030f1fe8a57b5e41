// Package broker implements the connectivity manager for the device's two
// candidate broker endpoints.
//
// The manager owns endpoint selection only. It tracks consecutive connect
// failures and flips the active endpoint from primary to fallback (and back)
// exactly once per threshold-sized failure batch, resetting the counter on
// each flip and on every success. The reconnect loop that calls it owns the
// delay schedule between attempts and resets that schedule whenever the
// endpoint flips, so the other broker gets a prompt first try.
//
// Endpoint selection is independent of which physical network interface
// carries the default route; the injected transport.Dialer dials whatever
// route the platform currently has.
package broker
