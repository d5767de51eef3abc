package domain

import "time"

// CapabilitySnapshot records which optional hardware subsystems are usable.
// It is computed once at process start and never re-probed mid-run.
type CapabilitySnapshot struct {
	Platform       string `json:"platform"`
	EmbeddedTarget bool   `json:"embeddedTarget"`
	HasGPIO        bool   `json:"hasGpio"`
	HasAudio       bool   `json:"hasAudio"`
	HasBluetooth   bool   `json:"hasBluetooth"`
	HasDisplay     bool   `json:"hasDisplay"`
}

// WearableEndpoint identifies one paired peripheral.
type WearableEndpoint struct {
	MAC         string
	Channel     int
	DisplayName string
}

// WearableState models the wearable session lifecycle.
type WearableState string

const (
	WearableStateDisconnected WearableState = "disconnected"
	WearableStateConnecting   WearableState = "connecting"
	WearableStateConnected    WearableState = "connected"
	WearableStateSimulated    WearableState = "simulated"
	WearableStateStopped      WearableState = "stopped"
)

// WearableStatus is a point-in-time view of the session.
type WearableStatus struct {
	State     WearableState `json:"state"`
	LastError string        `json:"lastError,omitempty"`
	Retries   int           `json:"retries"`
}

// Transcript is one recognized utterance. Transient, never persisted.
type Transcript struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// MicCandidate is one enumerated audio input device. Ordering of candidates
// is decided by configuration, not by device index.
type MicCandidate struct {
	Index int
	Name  string
}

// EventKind identifies which stream an event came from.
type EventKind string

const (
	EventKindSound  EventKind = "sound"
	EventKindSpeech EventKind = "speech"
	EventKindButton EventKind = "button"
)

// Event is the unit delivered through the orchestrator's fan-out.
type Event struct {
	ID         string    `json:"id"`
	Kind       EventKind `json:"kind"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Payload    string    `json:"payload,omitempty"`
	At         time.Time `json:"at"`
}

// Status summarizes the orchestrator runtime.
type Status struct {
	Running  bool           `json:"running"`
	Headless bool           `json:"headless"`
	Wearable WearableStatus `json:"wearable"`
	Message  string         `json:"message,omitempty"`
}
