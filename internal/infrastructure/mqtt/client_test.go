package mqtt

import (
	"errors"
	"strings"
	"testing"

	"github.com/homecontrol/homecontrol-core/internal/infrastructure/config"
)

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Host:     "broker.local",
		Port:     8883,
		TLS:      true,
		ClientID: "test-client",
		Username: "user",
		Password: "pass",
	}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("expected 1 broker, got %d", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "ssl://broker.local:8883" {
		t.Errorf("broker URL = %q, want ssl://broker.local:8883", got)
	}
	if opts.ClientID != "test-client" {
		t.Errorf("ClientID = %q, want test-client", opts.ClientID)
	}
	if opts.Username != "user" {
		t.Errorf("Username = %q, want user", opts.Username)
	}
}

func TestBuildClientOptions_PlainTCP(t *testing.T) {
	opts := buildClientOptions(config.MQTTConfig{Host: "localhost", Port: 1883, ClientID: "c"})

	if got := opts.Servers[0].String(); got != "tcp://localhost:1883" {
		t.Errorf("broker URL = %q, want tcp://localhost:1883", got)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := &Client{}

	if err := c.Publish("", []byte("x"), 0, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: err = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("t", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos: err = %v, want ErrInvalidQoS", err)
	}

	oversized := []byte(strings.Repeat("a", maxPayloadSize+1))
	if err := c.Publish("t", oversized, 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversized payload: err = %v, want ErrPublishFailed", err)
	}
}

func TestBuildStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("c1")
	if !strings.Contains(online, `"status":"online"`) || !strings.Contains(online, `"client_id":"c1"`) {
		t.Errorf("online payload malformed: %s", online)
	}

	offline := buildOfflinePayload("c1")
	if !strings.Contains(offline, `"status":"offline"`) {
		t.Errorf("offline payload malformed: %s", offline)
	}
}
