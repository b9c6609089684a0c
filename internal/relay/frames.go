package relay

import (
	"encoding/json"

	"github.com/homecontrol/homecontrol-core/internal/device"
)

// Inbound frame types. Anything else is dropped.
const (
	// FrameHeartbeat is a keep-alive; device heartbeats drive liveness.
	FrameHeartbeat = "heartbeat"

	// FrameStateUpdate carries a partial state document to merge.
	FrameStateUpdate = "state_update"

	// FrameSensorUpdate carries sensor readings for telemetry. It never
	// touches the state document.
	FrameSensorUpdate = "sensor_update"

	// FrameCommand asks the server to relay a payload to the device's
	// other connections verbatim.
	FrameCommand = "command"
)

// FrameUpdate is the outbound type broadcast after a merge.
const FrameUpdate = "update"

// Frame is the wire envelope for session traffic in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// update is the outbound envelope carrying a full state document.
type update struct {
	Type string               `json:"type"`
	Data device.StateDocument `json:"data"`
}

// EncodeUpdate builds the broadcast frame for a merged state document.
func EncodeUpdate(state device.StateDocument) ([]byte, error) {
	return json.Marshal(update{Type: FrameUpdate, Data: state})
}

// DecodeFrame parses an inbound message into a Frame. A message that is
// not a JSON object with a string type field returns ok=false.
func DecodeFrame(raw []byte) (Frame, bool) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, false
	}
	if f.Type == "" {
		return Frame{}, false
	}
	return f, true
}
