// Package mqtt publishes derived state and lifecycle events, and receives GPS
// fixes and raw frames, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"
)

// Topics.
const (
	// TopicState carries the periodic derived-state snapshot.
	TopicState = "vehicle/telemetry/state"
	// TopicSystem carries lifecycle events.
	TopicSystem = "vehicle/telemetry/system"
	// TopicGPS receives {"lat":..,"lon":..} fixes.
	TopicGPS = "vehicle/telemetry/gps"
	// TopicRaw receives raw text frames.
	TopicRaw = "vehicle/telemetry/raw"
)

// Lifecycle event names.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventReconnected = "RECONNECTED"
	EventOffline     = "OFFLINE"
)

// Publisher publishes to MQTT.
type Publisher interface {
	// PublishState sends a pre-formatted state payload.
	// Returns error if publishing fails (should not crash the process).
	PublishState(payload []byte) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// Subscriber delivers inbound messages on a topic to handler.
type Subscriber interface {
	Subscribe(topic string, handler func(payload []byte)) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (startup, shutdown, reconnect).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // e.g. "SIGTERM" (shutdown only)
	RawPayload []byte // pre-formatted JSON; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// SystemPayload is the payload for events that don't carry a full snapshot
// (LWT, RECONNECTED).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
