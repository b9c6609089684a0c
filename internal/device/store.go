package device

import (
	"context"
	"sync"
	"time"
)

// Logger interface for store operations.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is used when no logger is provided.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Store is the single gateway for reading and mutating device state.
//
// It wraps a Repository with a per-device mutex so that concurrent partial
// merges against the same device serialise instead of racing, while writes
// to different devices proceed in parallel. There is no global write lock.
type Store struct {
	repo   Repository
	logger Logger

	mu    sync.Mutex // guards locks map only
	locks map[string]*sync.Mutex
}

// NewStore creates a device store backed by the given repository.
func NewStore(repo Repository, logger Logger) *Store {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Store{
		repo:   repo,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// deviceLock returns the mutex for a device, creating it on first use.
// Lock entries are never removed; the map is bounded by the device count.
func (s *Store) deviceLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// GetDevice retrieves a device by ID.
func (s *Store) GetDevice(ctx context.Context, id string) (*Device, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByAPIKey retrieves a device by its shared secret.
func (s *Store) GetByAPIKey(ctx context.Context, apiKey string) (*Device, error) {
	return s.repo.GetByAPIKey(ctx, apiKey)
}

// ListDevices retrieves all devices.
func (s *Store) ListDevices(ctx context.Context) ([]*Device, error) {
	return s.repo.List(ctx)
}

// ListByOwner retrieves all devices belonging to a user.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*Device, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// ListOnlineDevices retrieves all devices currently marked online.
func (s *Store) ListOnlineDevices(ctx context.Context) ([]*Device, error) {
	return s.repo.ListOnline(ctx)
}

// CreateDevice registers a new device.
func (s *Store) CreateDevice(ctx context.Context, d *Device) error {
	if err := s.repo.Create(ctx, d); err != nil {
		return err
	}
	s.logger.Info("device created", "device_id", d.ID, "type", d.Type)
	return nil
}

// DeleteDevice removes a device.
func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	lock := s.deviceLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("device deleted", "device_id", id)
	return nil
}

// MergeState applies a partial state document to a device and returns the
// complete merged document. Concurrent merges against the same device are
// serialised; channel keys absent from partial are preserved.
func (s *Store) MergeState(ctx context.Context, id string, partial StateDocument) (StateDocument, error) {
	lock := s.deviceLock(id)
	lock.Lock()
	defer lock.Unlock()

	merged, err := s.repo.MergeState(ctx, id, partial)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("state merged", "device_id", id, "channels", len(partial))
	return merged, nil
}

// SetLiveness records a liveness transition for a device.
func (s *Store) SetLiveness(ctx context.Context, id string, online bool, lastSeen *time.Time, ip *string) error {
	lock := s.deviceLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := s.repo.SetLiveness(ctx, id, online, lastSeen, ip); err != nil {
		return err
	}

	s.logger.Debug("liveness updated", "device_id", id, "online", online)
	return nil
}

// Touch advances a device's last_seen without changing its online flag
// semantics beyond marking it online. Used on heartbeat traffic.
func (s *Store) Touch(ctx context.Context, id string, ip *string) error {
	now := time.Now().UTC()
	return s.SetLiveness(ctx, id, true, &now, ip)
}
