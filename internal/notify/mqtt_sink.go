package notify

import (
	"encoding/json"
	"fmt"

	"github.com/homecontrol/homecontrol-core/internal/infrastructure/mqtt"
)

// MQTTSink publishes notification events as JSON to the notify topic.
type MQTTSink struct {
	client *mqtt.Client
	qos    byte
}

// NewMQTTSink creates a sink over a connected MQTT client.
func NewMQTTSink(client *mqtt.Client, qos byte) *MQTTSink {
	return &MQTTSink{client: client, qos: qos}
}

// Notify publishes the event to the broker. Events published while the
// broker is unreachable are lost; paho reconnects in the background.
func (s *MQTTSink) Notify(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	topic := mqtt.TopicNotify + "/" + ev.DeviceID
	if err := s.client.Publish(topic, payload, s.qos, false); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}
