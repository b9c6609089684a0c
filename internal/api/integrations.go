package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/homecontrol/homecontrol-core/internal/auth"
)

// webhookSecretHeader carries the shared secret for integration calls.
const webhookSecretHeader = "X-Webhook-Secret"

// integrationControlRequest is the POST /integrations/control body.
// External automation (voice assistants, IFTTT-style hooks) flips one
// channel per call.
type integrationControlRequest struct {
	DeviceID   string `json:"device_id"`
	ChannelKey string `json:"channel_key"`
	State      bool   `json:"state"`
}

// handleIntegrationControl applies a channel change on behalf of an
// external integration authenticated by the webhook shared secret.
func (s *Server) handleIntegrationControl(w http.ResponseWriter, r *http.Request) {
	if s.secCfg.WebhookSecret == "" {
		writeNotFound(w, "integrations disabled")
		return
	}

	presented := r.Header.Get(webhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(s.secCfg.WebhookSecret)) != 1 {
		writeUnauthorized(w, "invalid webhook secret")
		return
	}

	var req integrationControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" || req.ChannelKey == "" {
		writeBadRequest(w, "device_id and channel_key are required")
		return
	}

	// Webhook callers passed the shared-secret gate; the change runs with
	// system authority.
	merged, err := s.relay.SetChannel(r.Context(), auth.SystemPrincipal(), req.DeviceID, req.ChannelKey, req.State)
	if err != nil {
		s.writeRelayError(w, req.DeviceID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": req.DeviceID,
		"state":     merged,
	})
}
