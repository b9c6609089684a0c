package device

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Device represents a physical IoT controller managed by the platform.
// The ID is an opaque string key assigned at registration (e.g. "SH-001")
// and immutable for the device's lifetime.
type Device struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id,omitempty"`
	Name    string `json:"name"`
	Type    Type   `json:"type"`

	// APIKey is the per-device shared secret presented at connect time.
	// Never serialised in API responses.
	APIKey string `json:"-"`

	// Liveness record, driven by heartbeat traffic.
	Online    bool       `json:"online"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	IPAddress *string    `json:"ip_address,omitempty"`

	// State is the authoritative mutable channel-state document.
	State StateDocument `json:"state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChannelState holds the fields of a single channel entry.
// At minimum {"state": bool}; devices may report extra fields.
type ChannelState map[string]any

// StateDocument maps channel keys (e.g. "relay1") to their state records.
//
// The document has partial-merge semantics: writers supply only the channel
// keys they intend to change, and unspecified keys are left untouched.
type StateDocument map[string]ChannelState

// Merge applies a partial document on top of this one, overwriting whole
// channel entries. Nested fields within a channel entry are replaced, not
// deep-merged. Returns the receiver for chaining.
func (d StateDocument) Merge(partial StateDocument) StateDocument {
	for key, channel := range partial {
		d[key] = channel.DeepCopy()
	}
	return d
}

// DeepCopy creates an independent copy of the channel entry.
func (c ChannelState) DeepCopy() ChannelState {
	if c == nil {
		return nil
	}
	cpy := make(ChannelState, len(c))
	for k, v := range c {
		cpy[k] = v
	}
	return cpy
}

// DeepCopy creates an independent copy of the document.
// Modifications to the copy do not affect the original.
func (d StateDocument) DeepCopy() StateDocument {
	if d == nil {
		return nil
	}
	cpy := make(StateDocument, len(d))
	for key, channel := range d {
		cpy[key] = channel.DeepCopy()
	}
	return cpy
}

// DeepCopy creates a complete independent copy of the Device.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields
	cpy.State = d.State.DeepCopy()

	// Pointer fields (*string, *time.Time) don't need deep copy
	// because strings and time.Time are immutable in Go

	return &cpy
}

// Type classifies the device hardware.
type Type string

// Device type constants.
const (
	TypeESP32   Type = "esp32"
	TypeESP8266 Type = "esp8266"
	TypeRPi     Type = "rpi"
)

// AllTypes returns all valid device types.
func AllTypes() []Type {
	return []Type{TypeESP32, TypeESP8266, TypeRPi}
}

// apiKeyBytes is the number of random bytes in a generated API key (256-bit).
const apiKeyBytes = 32

// GenerateAPIKey creates a cryptographically random device shared secret.
func GenerateAPIKey() string {
	b := make([]byte, apiKeyBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}
