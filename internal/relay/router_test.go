package relay

import (
	"context"
	"testing"

	"github.com/homecontrol/homecontrol-core/internal/auth"
)

func TestRoute_MalformedFramesDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := newFakeConn(auth.DevicePrincipal("SH-001"))
	f.sessions.Register("SH-001", conn)

	frames := [][]byte{
		nil,
		[]byte(""),
		[]byte("not json"),
		[]byte(`[1,2,3]`),
		[]byte(`{"no_type":"here"}`),
		[]byte(`{"type":""}`),
		[]byte(`{"type":"nonsense","data":{}}`),
	}

	for _, raw := range frames {
		// Must neither panic nor mutate state.
		f.router.Route(ctx, conn, "SH-001", raw)
	}

	d, err := f.store.GetDevice(ctx, "SH-001")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if d.Online {
		t.Error("malformed traffic promoted device online")
	}
	if len(d.State) != 2 {
		t.Errorf("state has %d channels, want untouched 2", len(d.State))
	}
}

func TestRoute_DeviceHeartbeatPromotesOnline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := newFakeConn(auth.DevicePrincipal("SH-001"))

	f.router.Route(ctx, conn, "SH-001", []byte(`{"type":"heartbeat"}`))

	d, err := f.store.GetDevice(ctx, "SH-001")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if !d.Online {
		t.Error("device heartbeat did not promote online")
	}
	if d.LastSeen == nil {
		t.Error("heartbeat did not advance last_seen")
	}
	if d.IPAddress == nil || *d.IPAddress != "192.168.1.10" {
		t.Errorf("ip_address = %v, want 192.168.1.10", d.IPAddress)
	}
}

func TestRoute_ViewerHeartbeatIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := newFakeConn(auth.UserPrincipal("user-owner", false))

	f.router.Route(ctx, conn, "SH-001", []byte(`{"type":"heartbeat"}`))

	d, err := f.store.GetDevice(ctx, "SH-001")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if d.Online {
		t.Error("user heartbeat promoted device online")
	}
}

func TestRoute_StateUpdateMergesAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dev := newFakeConn(auth.DevicePrincipal("SH-001"))
	viewer := newFakeConn(auth.UserPrincipal("user-owner", false))
	f.sessions.Register("SH-001", dev)
	f.sessions.Register("SH-001", viewer)

	f.router.Route(ctx, dev, "SH-001", []byte(`{"type":"state_update","data":{"relay1":{"state":true}}}`))

	d, err := f.store.GetDevice(ctx, "SH-001")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if d.State["relay1"]["state"] != true {
		t.Error("state_update not merged")
	}
	if !d.Online {
		t.Error("device state_update did not count as proof of life")
	}

	if viewer.sentCount() != 1 {
		t.Errorf("viewer received %d frames, want 1", viewer.sentCount())
	}
	if dev.sentCount() != 0 {
		t.Error("originating connection received its own update")
	}
}

func TestRoute_ViewerStateUpdateDoesNotPromoteLiveness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := newFakeConn(auth.UserPrincipal("user-owner", false))

	f.router.Route(ctx, conn, "SH-001", []byte(`{"type":"state_update","data":{"relay1":{"state":true}}}`))

	d, err := f.store.GetDevice(ctx, "SH-001")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if d.State["relay1"]["state"] != true {
		t.Error("owner state_update not merged")
	}
	if d.Online {
		t.Error("user traffic promoted device online")
	}
}

func TestRoute_UnauthorizedStateUpdateSwallowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := newFakeConn(auth.UserPrincipal("user-stranger", false))

	// No error surfaces on the frame path; the merge is just not applied.
	f.router.Route(ctx, conn, "SH-001", []byte(`{"type":"state_update","data":{"relay1":{"state":true}}}`))

	d, err := f.store.GetDevice(ctx, "SH-001")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if d.State["relay1"]["state"] != false {
		t.Error("unauthorized state_update was applied")
	}
}

func TestRoute_SensorUpdateRecordsTelemetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := newFakeConn(auth.DevicePrincipal("SH-001"))

	f.router.Route(ctx, conn, "SH-001", []byte(`{"type":"sensor_update","data":{"temperature":21.5,"motion":true}}`))

	f.telemetry.mu.Lock()
	readings := len(f.telemetry.readings)
	f.telemetry.mu.Unlock()
	if readings != 1 {
		t.Errorf("telemetry writes = %d, want 1", readings)
	}

	// Sensor data never touches the state document.
	d, err := f.store.GetDevice(ctx, "SH-001")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if len(d.State) != 2 {
		t.Errorf("state has %d channels, want untouched 2", len(d.State))
	}
}

func TestRoute_SensorUpdateFromViewerIgnored(t *testing.T) {
	f := newFixture(t)
	conn := newFakeConn(auth.UserPrincipal("user-owner", false))

	f.router.Route(context.Background(), conn, "SH-001", []byte(`{"type":"sensor_update","data":{"temperature":21.5}}`))

	f.telemetry.mu.Lock()
	defer f.telemetry.mu.Unlock()
	if len(f.telemetry.readings) != 0 {
		t.Error("viewer sensor_update reached telemetry")
	}
}

func TestRoute_SensorUpdateFansOutToViewers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dev := newFakeConn(auth.DevicePrincipal("SH-001"))
	viewer := newFakeConn(auth.UserPrincipal("user-owner", false))
	f.sessions.Register("SH-001", dev)
	f.sessions.Register("SH-001", viewer)

	raw := `{"type":"sensor_update","data":{"temperature":21.5}}`
	f.router.Route(ctx, dev, "SH-001", []byte(raw))

	if viewer.sentCount() != 1 {
		t.Fatalf("viewer received %d frames, want 1", viewer.sentCount())
	}
	if got := string(viewer.lastSent()); got != raw {
		t.Errorf("viewer received %s, want verbatim %s", got, raw)
	}
	if dev.sentCount() != 0 {
		t.Error("originating device received its own readings")
	}
}

func TestRoute_CommandRelayedToOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := newFakeConn(auth.UserPrincipal("user-owner", false))
	dev := newFakeConn(auth.DevicePrincipal("SH-001"))
	f.sessions.Register("SH-001", user)
	f.sessions.Register("SH-001", dev)

	raw := []byte(`{"type":"command","data":{"action":"reboot"}}`)
	f.router.Route(ctx, user, "SH-001", raw)

	if dev.sentCount() != 1 {
		t.Errorf("device received %d frames, want 1", dev.sentCount())
	}
	if string(dev.lastSent()) != string(raw) {
		t.Error("command frame not relayed verbatim")
	}
	if user.sentCount() != 0 {
		t.Error("command echoed back to sender")
	}
}

func TestRoute_CommandFromDeviceIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dev := newFakeConn(auth.DevicePrincipal("SH-001"))
	viewer := newFakeConn(auth.UserPrincipal("user-owner", false))
	f.sessions.Register("SH-001", dev)
	f.sessions.Register("SH-001", viewer)

	f.router.Route(ctx, dev, "SH-001", []byte(`{"type":"command","data":{}}`))

	if viewer.sentCount() != 0 {
		t.Error("device-originated command was relayed")
	}
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"valid heartbeat", `{"type":"heartbeat"}`, true},
		{"valid with data", `{"type":"state_update","data":{"relay1":{"state":true}}}`, true},
		{"empty type", `{"type":""}`, false},
		{"missing type", `{"data":{}}`, false},
		{"array", `[]`, false},
		{"truncated", `{"type":"hea`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := DecodeFrame([]byte(tt.raw))
			if ok != tt.ok {
				t.Errorf("DecodeFrame(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			}
		})
	}
}
