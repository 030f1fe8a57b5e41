// Package retry provides two backoff primitives:
//
// Do runs a bounded retry with exponential backoff and optional jitter,
// used for one-shot operations that should eventually give up.
//
// Schedule is an open-ended escalating delay for loops that never give up,
// such as the broker reconnect loop: 5s, 10s, 20s, 40s, 60s, then capped,
// reset to the minimum whenever the active broker endpoint changes.
package retry
