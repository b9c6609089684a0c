package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

func seedDevice(t *testing.T, repo *MemoryRepository, id string, state StateDocument) {
	t.Helper()
	err := repo.Create(context.Background(), &Device{
		ID:     id,
		Name:   "Test " + id,
		Type:   TypeESP32,
		APIKey: GenerateAPIKey(),
		State:  state,
	})
	if err != nil {
		t.Fatalf("seed device %s: %v", id, err)
	}
}

func TestStore_MergeState_PreservesUnspecifiedChannels(t *testing.T) {
	repo := NewMemoryRepository()
	store := NewStore(repo, nil)
	ctx := context.Background()

	seedDevice(t, repo, "SH-001", StateDocument{
		"relay1": {"state": true},
		"relay2": {"state": false},
	})

	merged, err := store.MergeState(ctx, "SH-001", StateDocument{
		"relay2": {"state": true},
	})
	if err != nil {
		t.Fatalf("MergeState failed: %v", err)
	}

	if got := merged["relay1"]["state"]; got != true {
		t.Errorf("relay1 state = %v, want true (unspecified key must survive)", got)
	}
	if got := merged["relay2"]["state"]; got != true {
		t.Errorf("relay2 state = %v, want true", got)
	}
}

func TestStore_MergeState_OverwritesWholeChannelEntry(t *testing.T) {
	repo := NewMemoryRepository()
	store := NewStore(repo, nil)
	ctx := context.Background()

	seedDevice(t, repo, "SH-001", StateDocument{
		"relay1": {"state": true, "brightness": float64(80)},
	})

	merged, err := store.MergeState(ctx, "SH-001", StateDocument{
		"relay1": {"state": false},
	})
	if err != nil {
		t.Fatalf("MergeState failed: %v", err)
	}

	// Shallow merge: the whole channel entry is replaced, nested fields
	// from the previous entry do not survive.
	if _, ok := merged["relay1"]["brightness"]; ok {
		t.Error("brightness survived channel overwrite, want whole-entry replacement")
	}
	if got := merged["relay1"]["state"]; got != false {
		t.Errorf("relay1 state = %v, want false", got)
	}
}

func TestStore_MergeState_AddsNewChannels(t *testing.T) {
	repo := NewMemoryRepository()
	store := NewStore(repo, nil)
	ctx := context.Background()

	seedDevice(t, repo, "SH-001", StateDocument{})

	merged, err := store.MergeState(ctx, "SH-001", StateDocument{
		"relay3": {"state": true},
	})
	if err != nil {
		t.Fatalf("MergeState failed: %v", err)
	}
	if got := merged["relay3"]["state"]; got != true {
		t.Errorf("relay3 state = %v, want true", got)
	}
}

func TestStore_MergeState_NotFound(t *testing.T) {
	repo := NewMemoryRepository()
	store := NewStore(repo, nil)

	_, err := store.MergeState(context.Background(), "missing", StateDocument{
		"relay1": {"state": true},
	})
	if err == nil {
		t.Fatal("expected error for unknown device")
	}
}

func TestStore_MergeState_ConcurrentDisjointKeys(t *testing.T) {
	repo := NewMemoryRepository()
	repo.mergeDelay = 2 * time.Millisecond // widen the race window
	store := NewStore(repo, nil)
	ctx := context.Background()

	seedDevice(t, repo, "SH-001", StateDocument{})

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("relay%d", n)
			if _, err := store.MergeState(ctx, "SH-001", StateDocument{
				key: {"state": true},
			}); err != nil {
				t.Errorf("MergeState %s: %v", key, err)
			}
		}(i)
	}
	wg.Wait()

	d, err := store.GetDevice(ctx, "SH-001")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}

	// Disjoint-key merges must union: no writer's channel may be lost.
	if len(d.State) != writers {
		t.Errorf("state has %d channels, want %d: %v", len(d.State), writers, d.State)
	}
	for i := 0; i < writers; i++ {
		key := fmt.Sprintf("relay%d", i)
		if got := d.State[key]["state"]; got != true {
			t.Errorf("%s state = %v, want true", key, got)
		}
	}
}

func TestStore_MergeState_ParallelDevices(t *testing.T) {
	repo := NewMemoryRepository()
	store := NewStore(repo, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seedDevice(t, repo, fmt.Sprintf("SH-%03d", i), StateDocument{})
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("SH-%03d", n)
			for j := 0; j < 20; j++ {
				if _, err := store.MergeState(ctx, id, StateDocument{
					"relay1": {"state": j%2 == 0},
				}); err != nil {
					t.Errorf("MergeState %s: %v", id, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestStore_SetLiveness(t *testing.T) {
	repo := NewMemoryRepository()
	store := NewStore(repo, nil)
	ctx := context.Background()

	seedDevice(t, repo, "SH-001", StateDocument{})

	now := time.Now().UTC()
	ip := "192.168.1.50"
	if err := store.SetLiveness(ctx, "SH-001", true, &now, &ip); err != nil {
		t.Fatalf("SetLiveness failed: %v", err)
	}

	d, err := store.GetDevice(ctx, "SH-001")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if !d.Online {
		t.Error("device not marked online")
	}
	if d.LastSeen == nil || !d.LastSeen.Equal(now) {
		t.Errorf("last_seen = %v, want %v", d.LastSeen, now)
	}
	if d.IPAddress == nil || *d.IPAddress != ip {
		t.Errorf("ip_address = %v, want %s", d.IPAddress, ip)
	}
}

func TestStore_SetLiveness_NilFieldsPreserved(t *testing.T) {
	repo := NewMemoryRepository()
	store := NewStore(repo, nil)
	ctx := context.Background()

	seedDevice(t, repo, "SH-001", StateDocument{})

	seen := time.Now().UTC().Add(-time.Minute)
	ip := "10.0.0.9"
	if err := store.SetLiveness(ctx, "SH-001", true, &seen, &ip); err != nil {
		t.Fatalf("SetLiveness failed: %v", err)
	}

	// Demote with nil lastSeen/ip: the stored values must survive.
	if err := store.SetLiveness(ctx, "SH-001", false, nil, nil); err != nil {
		t.Fatalf("SetLiveness failed: %v", err)
	}

	d, err := store.GetDevice(ctx, "SH-001")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if d.Online {
		t.Error("device still online after demotion")
	}
	if d.LastSeen == nil || !d.LastSeen.Equal(seen) {
		t.Errorf("last_seen = %v, want preserved %v", d.LastSeen, seen)
	}
	if d.IPAddress == nil || *d.IPAddress != ip {
		t.Errorf("ip_address = %v, want preserved %s", d.IPAddress, ip)
	}
}

func TestStateDocument_DeepCopyIndependent(t *testing.T) {
	original := StateDocument{
		"relay1": {"state": true},
	}
	cpy := original.DeepCopy()
	cpy["relay1"]["state"] = false
	cpy["relay2"] = ChannelState{"state": true}

	if original["relay1"]["state"] != true {
		t.Error("modifying copy mutated original channel entry")
	}
	if _, ok := original["relay2"]; ok {
		t.Error("modifying copy added channel to original")
	}
}

func TestStateDocument_JSONRoundTrip(t *testing.T) {
	doc := StateDocument{
		"relay1": {"state": true},
		"relay2": {"state": false, "label": "porch"},
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded StateDocument
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded["relay2"]["label"] != "porch" {
		t.Errorf("label = %v, want porch", decoded["relay2"]["label"])
	}
}

func TestValidateDevice(t *testing.T) {
	tests := []struct {
		name    string
		device  Device
		wantErr bool
	}{
		{"valid", Device{ID: "SH-001", Name: "Living Room", Type: TypeESP32}, false},
		{"empty id", Device{ID: "", Name: "x", Type: TypeESP32}, true},
		{"bad id chars", Device{ID: "SH 001", Name: "x", Type: TypeESP32}, true},
		{"empty name", Device{ID: "SH-001", Name: "", Type: TypeESP32}, true},
		{"bad type", Device{ID: "SH-001", Name: "x", Type: Type("toaster")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDevice(&tt.device)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDevice() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateAPIKey(t *testing.T) {
	a := GenerateAPIKey()
	b := GenerateAPIKey()
	if len(a) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(a))
	}
	if a == b {
		t.Error("two generated keys are identical")
	}
}
