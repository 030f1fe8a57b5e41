// Package health assembles a point-in-time status snapshot of the service
// for the console and for logging.
package health

import (
	"encoding/json"
	"time"
)

// BrokerStatus describes connectivity
type BrokerStatus struct {
	ActiveEndpoint      string `json:"active_endpoint"`
	ActiveRole          string `json:"active_role"`
	Connected           bool   `json:"connected"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	TotalAttempts       int    `json:"total_attempts"`
}

// PlaybackStatus describes the audio pipeline
type PlaybackStatus struct {
	State      string `json:"state"`
	QueueDepth int    `json:"queue_depth"`
}

// Status is the complete snapshot
type Status struct {
	Device        string         `json:"device"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Broker        BrokerStatus   `json:"broker"`
	Playback      PlaybackStatus `json:"playback"`
}

// Source produces status snapshots
type Source interface {
	Status() Status
}

// JSON renders the snapshot for the console
func (s Status) JSON() string {
	out, err := json.Marshal(s)
	if err != nil {
		return `{"error":"status marshal failed"}`
	}
	return string(out)
}

// Uptime converts a start time to whole seconds for the snapshot
func Uptime(start time.Time) int64 {
	return int64(time.Since(start).Seconds())
}
