package relay

import (
	"context"
	"encoding/json"
	"net"

	"github.com/homecontrol/homecontrol-core/internal/device"
	"github.com/homecontrol/homecontrol-core/internal/session"
)

// Router dispatches inbound session frames.
//
// The frame path is intentionally lossy: a malformed or unauthorized frame
// is logged and dropped, never answered with an error frame and never
// allowed to tear the connection down. Devices in the field retry blindly;
// a strict peer would just amplify their bugs.
type Router struct {
	service  *Service
	store    *device.Store
	sessions *session.Registry
	logger   Logger
}

// NewRouter creates a frame router over the relay service.
func NewRouter(service *Service, store *device.Store, sessions *session.Registry, logger Logger) *Router {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Router{
		service:  service,
		store:    store,
		sessions: sessions,
		logger:   logger,
	}
}

// Route handles one inbound message from a connection attached to deviceID.
func (r *Router) Route(ctx context.Context, conn session.Conn, deviceID string, raw []byte) {
	frame, ok := DecodeFrame(raw)
	if !ok {
		r.logger.Debug("malformed frame dropped", "device_id", deviceID, "remote", conn.RemoteAddr())
		return
	}

	switch frame.Type {
	case FrameHeartbeat:
		r.handleHeartbeat(ctx, conn, deviceID)
	case FrameStateUpdate:
		r.handleStateUpdate(ctx, conn, deviceID, frame.Data)
	case FrameSensorUpdate:
		r.handleSensorUpdate(ctx, conn, deviceID, raw, frame.Data)
	case FrameCommand:
		r.handleCommand(conn, deviceID, raw)
	default:
		r.logger.Debug("unknown frame type dropped",
			"device_id", deviceID,
			"type", frame.Type,
			"remote", conn.RemoteAddr(),
		)
	}
}

// handleHeartbeat advances device liveness. Only device-principal
// connections drive liveness; a dashboard's keep-alive says nothing about
// whether the hardware is up.
func (r *Router) handleHeartbeat(ctx context.Context, conn session.Conn, deviceID string) {
	if !conn.Principal().IsDevice() {
		return
	}

	ip := remoteIP(conn.RemoteAddr())
	if err := r.store.Touch(ctx, deviceID, &ip); err != nil {
		r.logger.Warn("heartbeat liveness update failed", "device_id", deviceID, "error", err)
	}
}

// handleStateUpdate merges a partial document and fans the result out.
// Device-principal updates also count as proof of life.
func (r *Router) handleStateUpdate(ctx context.Context, conn session.Conn, deviceID string, data json.RawMessage) {
	var partial device.StateDocument
	if err := json.Unmarshal(data, &partial); err != nil || len(partial) == 0 {
		r.logger.Debug("unparseable state_update dropped", "device_id", deviceID)
		return
	}

	p := conn.Principal()
	if _, err := r.service.mergeAndBroadcast(ctx, p, deviceID, partial, conn); err != nil {
		r.logger.Warn("state_update rejected",
			"device_id", deviceID,
			"principal", string(p.Kind),
			"error", err,
		)
		return
	}

	if p.IsDevice() {
		ip := remoteIP(conn.RemoteAddr())
		if err := r.store.Touch(ctx, deviceID, &ip); err != nil {
			r.logger.Warn("liveness update failed", "device_id", deviceID, "error", err)
		}
	}
}

// handleSensorUpdate fans readings out to watching dashboards and records
// them to the telemetry backend. Sensor data never touches the state
// document.
func (r *Router) handleSensorUpdate(ctx context.Context, conn session.Conn, deviceID string, raw []byte, data json.RawMessage) {
	if !conn.Principal().IsDevice() {
		return
	}

	var readings map[string]any
	if err := json.Unmarshal(data, &readings); err != nil || len(readings) == 0 {
		r.logger.Debug("unparseable sensor_update dropped", "device_id", deviceID)
		return
	}

	r.sessions.Broadcast(deviceID, raw, conn)
	r.service.RecordTelemetry(deviceID, readings)

	ip := remoteIP(conn.RemoteAddr())
	if err := r.store.Touch(ctx, deviceID, &ip); err != nil {
		r.logger.Warn("liveness update failed", "device_id", deviceID, "error", err)
	}
}

// handleCommand relays the frame verbatim to the device's other
// connections. The server does not interpret command payloads.
func (r *Router) handleCommand(conn session.Conn, deviceID string, raw []byte) {
	if conn.Principal().IsDevice() {
		// Commands flow toward devices, not from them.
		return
	}
	r.sessions.Broadcast(deviceID, raw, conn)
}

// remoteIP strips the port from a host:port address.
func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
