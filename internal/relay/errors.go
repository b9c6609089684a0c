package relay

import "errors"

// Sentinel errors for relay operations.
var (
	// ErrUnauthorized is returned when a principal may not control a device.
	ErrUnauthorized = errors.New("relay: not authorized for device")

	// ErrInvalidChannel is returned when a channel key is empty or malformed.
	ErrInvalidChannel = errors.New("relay: invalid channel key")
)
