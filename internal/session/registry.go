package session

import (
	"sync"

	"github.com/homecontrol/homecontrol-core/internal/auth"
)

// Logger interface for registry operations.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Conn is a live connection attached to a device's session.
// Implementations must make Send safe for concurrent use.
type Conn interface {
	// Send queues a raw frame for delivery. A full or closed connection
	// returns an error; the registry treats that as delivery failure for
	// this connection only.
	Send(data []byte) error

	// Principal returns the identity resolved at connect time.
	Principal() auth.Principal

	// RemoteAddr returns the peer address for logging.
	RemoteAddr() string
}

// PresenceListener is notified when a device's connection set transitions
// between empty and non-empty. Callbacks run outside the registry locks.
type PresenceListener interface {
	// DeviceConnected fires when the first connection for a device
	// registers. first is the principal of that connection.
	DeviceConnected(deviceID string, first auth.Principal)

	// DeviceDisconnected fires when the last connection for a device
	// unregisters.
	DeviceDisconnected(deviceID string)
}

// deviceSessions holds the connection set for one device.
type deviceSessions struct {
	mu    sync.Mutex
	conns map[Conn]struct{}

	// defunct marks a set that has been removed from the registry map.
	// A Register racing the removal retries instead of joining it.
	defunct bool
}

// Registry tracks the live connections attached to each device.
//
// Locking is two-level: a short-lived registry lock guards the device map,
// and a per-device lock guards each connection set. Broadcast to one device
// never blocks traffic on another, and there is no global connection lock.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*deviceSessions

	listener PresenceListener
	logger   Logger
}

// NewRegistry creates an empty session registry.
func NewRegistry(logger Logger) *Registry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{
		devices: make(map[string]*deviceSessions),
		logger:  logger,
	}
}

// SetPresenceListener installs the presence transition callback.
// Must be called before connections start registering.
func (r *Registry) SetPresenceListener(l PresenceListener) {
	r.listener = l
}

// sessionsFor returns the session set for a device, creating it if needed.
func (r *Registry) sessionsFor(deviceID string) *deviceSessions {
	r.mu.RLock()
	s, ok := r.devices[deviceID]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.devices[deviceID]; ok {
		return s
	}
	s = &deviceSessions{conns: make(map[Conn]struct{})}
	r.devices[deviceID] = s
	return s
}

// Register attaches a connection to a device's session set.
// Fires DeviceConnected if this is the first connection for the device.
func (r *Registry) Register(deviceID string, conn Conn) {
	var count int
	for {
		s := r.sessionsFor(deviceID)

		s.mu.Lock()
		if s.defunct {
			// Lost a race with the teardown of the last connection; the
			// set is gone from the map. Fetch a fresh one.
			s.mu.Unlock()
			continue
		}
		s.conns[conn] = struct{}{}
		count = len(s.conns)
		s.mu.Unlock()
		break
	}

	r.logger.Debug("connection registered",
		"device_id", deviceID,
		"principal", string(conn.Principal().Kind),
		"remote", conn.RemoteAddr(),
		"connections", count,
	)

	if count == 1 && r.listener != nil {
		r.listener.DeviceConnected(deviceID, conn.Principal())
	}
}

// Unregister detaches a connection from a device's session set.
// Unknown connections are ignored. When the set empties, the device's
// entry is removed from the registry and DeviceDisconnected fires.
func (r *Registry) Unregister(deviceID string, conn Conn) {
	r.mu.RLock()
	s, ok := r.devices[deviceID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	_, present := s.conns[conn]
	if present {
		delete(s.conns, conn)
	}
	count := len(s.conns)
	s.mu.Unlock()

	if !present {
		return
	}

	if count == 0 {
		r.removeIfEmpty(deviceID, s)
	}

	r.logger.Debug("connection unregistered",
		"device_id", deviceID,
		"remote", conn.RemoteAddr(),
		"connections", count,
	)

	if count == 0 && r.listener != nil {
		r.listener.DeviceDisconnected(deviceID)
	}
}

// removeIfEmpty drops a device's entry from the registry map, re-checking
// emptiness under both locks in case a connection registered in between.
func (r *Registry) removeIfEmpty(deviceID string, s *deviceSessions) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.devices[deviceID] != s {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		s.defunct = true
		delete(r.devices, deviceID)
	}
}

// Broadcast sends a frame to every connection attached to a device, except
// exclude (pass nil to send to all). Per-connection send failures are
// logged and skipped; one slow or dead peer never blocks the rest.
func (r *Registry) Broadcast(deviceID string, data []byte, exclude Conn) {
	r.mu.RLock()
	s, ok := r.devices[deviceID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	targets := make([]Conn, 0, len(s.conns))
	for c := range s.conns {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.Send(data); err != nil {
			r.logger.Warn("broadcast delivery failed",
				"device_id", deviceID,
				"remote", c.RemoteAddr(),
				"error", err,
			)
		}
	}
}

// ConnCount returns the number of live connections for a device.
func (r *Registry) ConnCount(deviceID string) int {
	r.mu.RLock()
	s, ok := r.devices[deviceID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// HasDeviceConn reports whether any device-principal connection is attached
// to the given device.
func (r *Registry) HasDeviceConn(deviceID string) bool {
	r.mu.RLock()
	s, ok := r.devices[deviceID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		if c.Principal().IsDevice() {
			return true
		}
	}
	return false
}
