package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteChannelState records a relay channel state transition.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Boolean states are stored as 0/1 so they can be graphed alongside
// numeric telemetry.
func (c *Client) WriteChannelState(deviceID, channelKey string, on bool) {
	if !c.IsConnected() {
		return
	}

	value := 0.0
	if on {
		value = 1.0
	}

	point := write.NewPoint(
		"channel_state",
		map[string]string{
			"device_id": deviceID,
			"channel":   channelKey,
		},
		map[string]interface{}{
			"state": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteTelemetry records sensor readings reported by a device.
//
// Only numeric and boolean fields are written; anything else in the
// payload is skipped. Used for the best-effort persistence of
// sensor_update frames.
//
// Example:
//
//	client.WriteTelemetry("SH-001", map[string]any{"temperature": 21.5, "motion": true})
func (c *Client) WriteTelemetry(deviceID string, readings map[string]any) {
	if !c.IsConnected() {
		return
	}

	fields := make(map[string]interface{}, len(readings))
	for key, val := range readings {
		switch v := val.(type) {
		case float64:
			fields[key] = v
		case int:
			fields[key] = float64(v)
		case bool:
			boolVal := 0.0
			if v {
				boolVal = 1.0
			}
			fields[key] = boolVal
		}
	}
	if len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		"telemetry",
		map[string]string{
			"device_id": deviceID,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
