// Package soundpost is the connectivity-and-delivery core of a networked
// alerting speaker. It keeps a broker link alive across a primary and a
// fallback endpoint, reassembles length-prefixed alert envelopes from
// chunked reads, stages Opus payloads to disk, and plays them in priority
// order with support for interruption and repetition.
//
// The moving parts:
//
//   - broker: endpoint selection and failover bookkeeping
//   - transport, transport/natstream: the chunked byte-stream link
//   - framer: envelope reassembly and stream alignment
//   - staging: payload spooling with strict byte accounting
//   - playback: priority queue and decode/playback engine
//   - codec: Ogg/Opus packet extraction and decoding
//   - console: remote operator channel
//   - service: wiring and lifecycle
//
// cmd/soundpostd runs the service; cmd/soundpost-send publishes alerts.
package soundpost
