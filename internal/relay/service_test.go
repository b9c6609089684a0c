package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/homecontrol/homecontrol-core/internal/auth"
	"github.com/homecontrol/homecontrol-core/internal/device"
	"github.com/homecontrol/homecontrol-core/internal/notify"
	"github.com/homecontrol/homecontrol-core/internal/session"
)

// fakeConn is a minimal session.Conn for broadcast assertions.
type fakeConn struct {
	mu        sync.Mutex
	principal auth.Principal
	sent      [][]byte
}

func newFakeConn(p auth.Principal) *fakeConn {
	return &fakeConn{principal: p}
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Principal() auth.Principal { return c.principal }
func (c *fakeConn) RemoteAddr() string        { return "192.168.1.10:51000" }

func (c *fakeConn) lastSent() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// recordingTelemetry captures telemetry writes.
type recordingTelemetry struct {
	mu       sync.Mutex
	channels []string
	readings []map[string]any
}

func (r *recordingTelemetry) WriteChannelState(_ string, channelKey string, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channelKey)
}

func (r *recordingTelemetry) WriteTelemetry(_ string, readings map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, readings)
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(ev notify.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return true
}

type fixture struct {
	store     *device.Store
	sessions  *session.Registry
	events    *recordingPublisher
	telemetry *recordingTelemetry
	service   *Service
	router    *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := device.NewMemoryRepository()
	store := device.NewStore(repo, nil)
	sessions := session.NewRegistry(nil)
	events := &recordingPublisher{}
	telemetry := &recordingTelemetry{}
	service := NewService(store, sessions, events, telemetry, nil)

	if err := store.CreateDevice(context.Background(), &device.Device{
		ID:      "SH-001",
		OwnerID: "user-owner",
		Name:    "Living Room",
		Type:    device.TypeESP32,
		APIKey:  device.GenerateAPIKey(),
		State: device.StateDocument{
			"relay1": {"state": false},
			"relay2": {"state": true},
		},
	}); err != nil {
		t.Fatalf("seed device: %v", err)
	}

	return &fixture{
		store:     store,
		sessions:  sessions,
		events:    events,
		telemetry: telemetry,
		service:   service,
		router:    NewRouter(service, store, sessions, nil),
	}
}

func TestSetChannel_OwnerFlipsRelay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	viewer := newFakeConn(auth.UserPrincipal("user-other", false))
	f.sessions.Register("SH-001", viewer)

	doc, err := f.service.SetChannel(ctx, auth.UserPrincipal("user-owner", false), "SH-001", "relay1", true)
	if err != nil {
		t.Fatalf("SetChannel failed: %v", err)
	}

	if doc["relay1"]["state"] != true {
		t.Errorf("relay1 = %v, want true", doc["relay1"]["state"])
	}
	if doc["relay2"]["state"] != true {
		t.Error("relay2 lost during single-channel set")
	}

	// The broadcast names only the written channel, with its persisted value.
	raw := viewer.lastSent()
	if raw == nil {
		t.Fatal("no broadcast delivered")
	}
	var u update
	if err := json.Unmarshal(raw, &u); err != nil {
		t.Fatalf("unmarshal broadcast: %v", err)
	}
	if u.Type != FrameUpdate {
		t.Errorf("broadcast type = %q, want %q", u.Type, FrameUpdate)
	}
	if u.Data["relay1"]["state"] != true {
		t.Errorf("broadcast %v does not carry the persisted relay1 value", u.Data)
	}
	if _, ok := u.Data["relay2"]; ok {
		t.Errorf("broadcast %v names relay2, which this write never touched", u.Data)
	}
	if len(u.Data) != 1 {
		t.Errorf("broadcast names %d channels, want 1", len(u.Data))
	}

	// Persisted state matches too.
	d, err := f.store.GetDevice(ctx, "SH-001")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if d.State["relay1"]["state"] != true {
		t.Error("persisted state does not match returned document")
	}
}

func TestSetChannel_ConcurrentSameChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	viewer := newFakeConn(auth.UserPrincipal("user-owner", false))
	f.sessions.Register("SH-001", viewer)

	// Writers race on the same channel with alternating values. Exactly one
	// write lands last; no interleaving may produce a document reflecting
	// neither.
	const writers = 6
	const rounds = 20

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(on bool) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				if _, err := f.service.SetChannel(ctx, auth.SystemPrincipal(), "SH-001", "relay1", on); err != nil {
					t.Errorf("SetChannel failed: %v", err)
					return
				}
			}
		}(i%2 == 0)
	}
	wg.Wait()

	if got := viewer.sentCount(); got != writers*rounds {
		t.Errorf("viewer received %d broadcasts, want %d", got, writers*rounds)
	}

	d, err := f.store.GetDevice(ctx, "SH-001")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	persisted, ok := d.State["relay1"]["state"].(bool)
	if !ok {
		t.Fatalf("relay1 state = %v, want a bool", d.State["relay1"]["state"])
	}

	// The last delivered broadcast carries the value that actually survived.
	var u update
	if err := json.Unmarshal(viewer.lastSent(), &u); err != nil {
		t.Fatalf("unmarshal broadcast: %v", err)
	}
	if u.Data["relay1"]["state"] != persisted {
		t.Errorf("last broadcast %v does not match persisted relay1=%v", u.Data, persisted)
	}
}

func TestSetChannel_AuthorizationMatrix(t *testing.T) {
	tests := []struct {
		name      string
		principal auth.Principal
		wantErr   error
	}{
		{"device self", auth.DevicePrincipal("SH-001"), nil},
		{"other device", auth.DevicePrincipal("SH-999"), ErrUnauthorized},
		{"owner", auth.UserPrincipal("user-owner", false), nil},
		{"stranger", auth.UserPrincipal("user-stranger", false), ErrUnauthorized},
		{"admin", auth.UserPrincipal("user-admin", true), nil},
		{"system", auth.SystemPrincipal(), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.service.SetChannel(context.Background(), tt.principal, "SH-001", "relay1", true)
			if tt.wantErr == nil && err != nil {
				t.Errorf("SetChannel error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("SetChannel error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSetChannel_UnknownDevice(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.SetChannel(context.Background(), auth.SystemPrincipal(), "missing", "relay1", true)
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSetChannel_InvalidChannelKey(t *testing.T) {
	f := newFixture(t)

	for _, key := range []string{"", "has space", "way/too/weird"} {
		_, err := f.service.SetChannel(context.Background(), auth.SystemPrincipal(), "SH-001", key, true)
		if !errors.Is(err, ErrInvalidChannel) {
			t.Errorf("key %q: error = %v, want ErrInvalidChannel", key, err)
		}
	}
}

func TestSetChannel_RecordsTelemetryAndEvent(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.SetChannel(context.Background(), auth.SystemPrincipal(), "SH-001", "relay1", true)
	if err != nil {
		t.Fatalf("SetChannel failed: %v", err)
	}

	f.telemetry.mu.Lock()
	channels := len(f.telemetry.channels)
	f.telemetry.mu.Unlock()
	if channels != 1 {
		t.Errorf("telemetry writes = %d, want 1", channels)
	}

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	if len(f.events.events) != 1 || f.events.events[0].Type != notify.EventStateChanged {
		t.Errorf("events = %+v, want one state_changed", f.events.events)
	}
}

func TestMergeDocument_MultipleChannels(t *testing.T) {
	f := newFixture(t)

	doc, err := f.service.MergeDocument(context.Background(), auth.DevicePrincipal("SH-001"), "SH-001", device.StateDocument{
		"relay1": {"state": true},
		"relay3": {"state": true},
	})
	if err != nil {
		t.Fatalf("MergeDocument failed: %v", err)
	}

	if len(doc) != 3 {
		t.Errorf("document has %d channels, want 3", len(doc))
	}
}
