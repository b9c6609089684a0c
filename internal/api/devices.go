package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/homecontrol/homecontrol-core/internal/auth"
	"github.com/homecontrol/homecontrol-core/internal/device"
	"github.com/homecontrol/homecontrol-core/internal/relay"
)

// createDeviceRequest is the POST /devices body.
type createDeviceRequest struct {
	ID      string      `json:"id"`
	OwnerID string      `json:"owner_id,omitempty"`
	Name    string      `json:"name"`
	Type    device.Type `json:"type,omitempty"`
}

// createDeviceResponse returns the new device plus its API key. The key is
// shown exactly once, at registration.
type createDeviceResponse struct {
	Device *device.Device `json:"device"`
	APIKey string         `json:"api_key"`
}

// setRelayRequest is the PUT /devices/{id}/relays/{key} body.
type setRelayRequest struct {
	State bool `json:"state"`
}

// canViewDevice reports whether the principal may read a device.
func canViewDevice(p auth.Principal, d *device.Device) bool {
	return p.IsAdmin || (d.OwnerID != "" && d.OwnerID == p.UserID)
}

// handleListDevices lists all devices for admins, owned devices otherwise.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var (
		devices []*device.Device
		err     error
	)
	if p.IsAdmin {
		devices, err = s.store.ListDevices(r.Context())
	} else {
		devices, err = s.store.ListByOwner(r.Context(), p.UserID)
	}
	if err != nil {
		s.logger.Error("listing devices failed", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	if devices == nil {
		devices = []*device.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleCreateDevice registers a new device. Admin only.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	if !p.IsAdmin {
		writeForbidden(w, "device registration requires admin")
		return
	}

	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d := &device.Device{
		ID:      req.ID,
		OwnerID: req.OwnerID,
		Name:    req.Name,
		Type:    req.Type,
		APIKey:  device.GenerateAPIKey(),
		State:   device.StateDocument{},
	}
	if d.Type == "" {
		d.Type = device.TypeESP32
	}

	if err := s.store.CreateDevice(r.Context(), d); err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceExists):
			writeConflict(w, "device id already registered")
		case errors.Is(err, device.ErrInvalidID), errors.Is(err, device.ErrInvalidName), errors.Is(err, device.ErrInvalidType):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Error("device creation failed", "device_id", req.ID, "error", err)
			writeInternalError(w, "failed to create device")
		}
		return
	}

	writeJSON(w, http.StatusCreated, createDeviceResponse{
		Device: d,
		APIKey: d.APIKey,
	})
}

// handleGetDevice returns a single device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	d, err := s.store.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to load device")
		return
	}

	if !canViewDevice(p, d) {
		// Opaque 404 so strangers cannot probe the device namespace.
		writeNotFound(w, "device not found")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDevice removes a device and its schedules. Admin only.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	if !p.IsAdmin {
		writeForbidden(w, "device deletion requires admin")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.store.DeleteDevice(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("device deletion failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to delete device")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// handleGetDeviceState returns the device's state document.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	d, err := s.store.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to load device")
		return
	}

	if !canViewDevice(p, d) {
		writeNotFound(w, "device not found")
		return
	}

	writeJSON(w, http.StatusOK, d.State)
}

// handleSetDeviceState merges a partial state document and returns the
// complete merged result.
func (s *Server) handleSetDeviceState(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	id := chi.URLParam(r, "id")

	var partial device.StateDocument
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeBadRequest(w, "invalid state document")
		return
	}
	if len(partial) == 0 {
		writeBadRequest(w, "state document must name at least one channel")
		return
	}

	merged, err := s.relay.MergeDocument(r.Context(), p, id, partial)
	if err != nil {
		s.writeRelayError(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, merged)
}

// handleSetRelay flips a single channel and returns the merged document.
func (s *Server) handleSetRelay(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	id := chi.URLParam(r, "id")
	key := chi.URLParam(r, "key")

	var req setRelayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	merged, err := s.relay.SetChannel(r.Context(), p, id, key, req.State)
	if err != nil {
		s.writeRelayError(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, merged)
}

// writeRelayError maps relay pipeline errors to HTTP responses.
func (s *Server) writeRelayError(w http.ResponseWriter, deviceID string, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, relay.ErrUnauthorized):
		writeForbidden(w, "not authorized for device")
	case errors.Is(err, relay.ErrInvalidChannel):
		writeBadRequest(w, err.Error())
	default:
		s.logger.Error("state change failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to apply state change")
	}
}
