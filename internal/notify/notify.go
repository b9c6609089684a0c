package notify

import (
	"time"
)

// Event is a presence or state notification published to external consumers.
type Event struct {
	Type      string    `json:"type"`
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Detail    any       `json:"detail,omitempty"`
}

// Event type constants.
const (
	EventDeviceOnline  = "device_online"
	EventDeviceOffline = "device_offline"
	EventStateChanged  = "state_changed"
)

// Sink consumes notification events. Implementations must not block; the
// queue in front of them already decouples producers.
type Sink interface {
	Notify(event Event) error
}

// Noop is a Sink that discards everything. Used when no broker is configured.
type Noop struct{}

// Notify discards the event.
func (Noop) Notify(Event) error { return nil }

// DeviceOnline builds an online presence event.
func DeviceOnline(deviceID string) Event {
	return Event{Type: EventDeviceOnline, DeviceID: deviceID, Timestamp: time.Now().UTC()}
}

// DeviceOffline builds an offline presence event.
func DeviceOffline(deviceID string) Event {
	return Event{Type: EventDeviceOffline, DeviceID: deviceID, Timestamp: time.Now().UTC()}
}

// StateChanged builds a state change event carrying the changed channels.
func StateChanged(deviceID string, detail any) Event {
	return Event{Type: EventStateChanged, DeviceID: deviceID, Timestamp: time.Now().UTC(), Detail: detail}
}
