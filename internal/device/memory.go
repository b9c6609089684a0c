package device

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository used by tests and ephemeral
// deployments. All returned devices are deep copies.
type MemoryRepository struct {
	mu      sync.Mutex
	devices map[string]*Device

	// mergeDelay widens the read-modify-write window inside MergeState so
	// concurrency tests can provoke lost updates in unserialised callers.
	mergeDelay time.Duration
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{devices: make(map[string]*Device)}
}

// GetByID retrieves a device by ID.
func (m *MemoryRepository) GetByID(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

// GetByAPIKey retrieves a device by its shared secret.
func (m *MemoryRepository) GetByAPIKey(_ context.Context, apiKey string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.APIKey == apiKey {
			return d.DeepCopy(), nil
		}
	}
	return nil, ErrDeviceNotFound
}

// List retrieves all devices ordered by ID.
func (m *MemoryRepository) List(_ context.Context) ([]*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d.DeepCopy())
	}
	sortByID(out)
	return out, nil
}

// ListByOwner retrieves all devices belonging to a user.
func (m *MemoryRepository) ListByOwner(_ context.Context, ownerID string) ([]*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Device
	for _, d := range m.devices {
		if d.OwnerID == ownerID {
			out = append(out, d.DeepCopy())
		}
	}
	sortByID(out)
	return out, nil
}

// ListOnline retrieves all devices currently marked online.
func (m *MemoryRepository) ListOnline(_ context.Context) ([]*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Device
	for _, d := range m.devices {
		if d.Online {
			out = append(out, d.DeepCopy())
		}
	}
	sortByID(out)
	return out, nil
}

// Create inserts a new device.
func (m *MemoryRepository) Create(_ context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.devices[d.ID]; exists {
		return ErrDeviceExists
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.State == nil {
		d.State = StateDocument{}
	}
	m.devices[d.ID] = d.DeepCopy()
	return nil
}

// Delete removes a device.
func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.devices, id)
	return nil
}

// MergeState applies a partial state document.
//
// Unlike the SQLite implementation this read-modify-write is deliberately
// NOT atomic; the Store's per-device lock is what serialises it, and the
// concurrency tests rely on that.
func (m *MemoryRepository) MergeState(_ context.Context, id string, partial StateDocument) (StateDocument, error) {
	m.mu.Lock()
	d, ok := m.devices[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrDeviceNotFound
	}
	current := d.State.DeepCopy()
	m.mu.Unlock()

	if m.mergeDelay > 0 {
		time.Sleep(m.mergeDelay)
	}

	merged := current.Merge(partial)

	m.mu.Lock()
	d.State = merged.DeepCopy()
	now := time.Now().UTC()
	d.LastSeen = &now
	d.UpdatedAt = now
	m.mu.Unlock()

	return merged, nil
}

// SetLiveness records a liveness transition.
func (m *MemoryRepository) SetLiveness(_ context.Context, id string, online bool, lastSeen *time.Time, ip *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.Online = online
	if lastSeen != nil {
		t := lastSeen.UTC()
		d.LastSeen = &t
	}
	if ip != nil {
		v := *ip
		d.IPAddress = &v
	}
	return nil
}

func sortByID(devices []*Device) {
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
}
