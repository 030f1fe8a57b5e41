package playback

// State is the engine's externally visible condition
type State int

const (
	// StateIdle means no item is playing
	StateIdle State = iota
	// StatePlaying means frames are flowing to the output
	StatePlaying
	// StatePaused means playback is held between frames
	StatePaused
	// StateStopping means the engine is shutting down
	StateStopping
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
