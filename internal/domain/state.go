package domain

import "time"

// ConnState is the connection manager's lifecycle state.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateStopped
)

// String returns a human-readable state label.
func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VoiceParams are read from the live options at the start of each
// utterance and handed to the speech backend for every chunk.
type VoiceParams struct {
	Rate   float64 // 0.5 .. 2.0, 1.0 is the backend's normal speed
	Volume int     // 0 .. 100
	Voice  string  // backend-specific voice name, empty = default
}

// Utterance is a sanitized, prefixed line waiting to be spoken.
type Utterance struct {
	Text     string
	User     string
	VIP      bool
	Enqueued time.Time
}
