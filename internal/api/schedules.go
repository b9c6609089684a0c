package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/homecontrol/homecontrol-core/internal/device"
	"github.com/homecontrol/homecontrol-core/internal/schedule"
)

// createScheduleRequest is the POST /devices/{id}/schedules body.
type createScheduleRequest struct {
	ChannelKey   string `json:"channel_key"`
	DesiredState bool   `json:"desired_state"`
	TimeOfDay    string `json:"time_of_day"`
	Active       *bool  `json:"active,omitempty"`
}

// patchScheduleRequest is the PATCH /schedules/{id} body.
type patchScheduleRequest struct {
	Active bool `json:"active"`
}

// handleListSchedules lists the schedules for a device.
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeInternalError(w, "scheduling not configured")
		return
	}

	p, _ := principalFrom(r.Context())
	id := chi.URLParam(r, "id")

	d, err := s.store.GetDevice(r.Context(), id)
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

	list, err := s.schedules.ListByDevice(r.Context(), id)
	if err != nil {
		s.logger.Error("listing schedules failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to list schedules")
		return
	}
	if list == nil {
		list = []*schedule.Schedule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schedules": list,
		"count":     len(list),
	})
}

// handleCreateSchedule creates a daily channel switch for a device.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeInternalError(w, "scheduling not configured")
		return
	}

	p, _ := principalFrom(r.Context())
	id := chi.URLParam(r, "id")

	d, err := s.store.GetDevice(r.Context(), id)
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

	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	sched := &schedule.Schedule{
		DeviceID:     id,
		ChannelKey:   req.ChannelKey,
		DesiredState: req.DesiredState,
		TimeOfDay:    req.TimeOfDay,
		Active:       true,
	}
	if req.Active != nil {
		sched.Active = *req.Active
	}

	if err := s.schedules.Create(r.Context(), sched); err != nil {
		if errors.Is(err, schedule.ErrInvalidSchedule) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("schedule creation failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to create schedule")
		return
	}

	writeJSON(w, http.StatusCreated, sched)
}

// handleSetScheduleActive enables or disables a schedule.
func (s *Server) handleSetScheduleActive(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeInternalError(w, "scheduling not configured")
		return
	}

	id := chi.URLParam(r, "id")

	if _, err := s.authorizeScheduleAccess(w, r, id); err != nil {
		return
	}

	var req patchScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.schedules.SetActive(r.Context(), id, req.Active); err != nil {
		if errors.Is(err, schedule.ErrScheduleNotFound) {
			writeNotFound(w, "schedule not found")
			return
		}
		writeInternalError(w, "failed to update schedule")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": req.Active})
}

// handleDeleteSchedule removes a schedule.
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeInternalError(w, "scheduling not configured")
		return
	}

	id := chi.URLParam(r, "id")

	if _, err := s.authorizeScheduleAccess(w, r, id); err != nil {
		return
	}

	if err := s.schedules.Delete(r.Context(), id); err != nil {
		if errors.Is(err, schedule.ErrScheduleNotFound) {
			writeNotFound(w, "schedule not found")
			return
		}
		writeInternalError(w, "failed to delete schedule")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// authorizeScheduleAccess loads a schedule and checks the caller can manage
// its device. Writes the HTTP error response itself on failure.
func (s *Server) authorizeScheduleAccess(w http.ResponseWriter, r *http.Request, scheduleID string) (*schedule.Schedule, error) {
	p, _ := principalFrom(r.Context())

	sched, err := s.schedules.GetByID(r.Context(), scheduleID)
	if err != nil {
		if errors.Is(err, schedule.ErrScheduleNotFound) {
			writeNotFound(w, "schedule not found")
			return nil, err
		}
		writeInternalError(w, "failed to load schedule")
		return nil, err
	}

	d, err := s.store.GetDevice(r.Context(), sched.DeviceID)
	if err != nil {
		writeNotFound(w, "schedule not found")
		return nil, err
	}
	if !canViewDevice(p, d) {
		writeNotFound(w, "schedule not found")
		return nil, errors.New("api: schedule access denied")
	}

	return sched, nil
}
