package relay

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/homecontrol/homecontrol-core/internal/auth"
	"github.com/homecontrol/homecontrol-core/internal/device"
	"github.com/homecontrol/homecontrol-core/internal/notify"
	"github.com/homecontrol/homecontrol-core/internal/session"
)

// Logger interface for relay operations.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// TelemetryWriter records channel transitions and sensor readings.
// Writes are fire-and-forget.
type TelemetryWriter interface {
	WriteChannelState(deviceID, channelKey string, on bool)
	WriteTelemetry(deviceID string, readings map[string]any)
}

// noopTelemetry is used when no time-series backend is configured.
type noopTelemetry struct{}

func (noopTelemetry) WriteChannelState(string, string, bool) {}
func (noopTelemetry) WriteTelemetry(string, map[string]any)  {}

// Publisher enqueues notification events.
type Publisher interface {
	Publish(ev notify.Event) bool
}

// channelKeyPattern matches valid channel keys, e.g. "relay1", "pump_a".
var channelKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Service owns the authorize-merge-persist-broadcast pipeline for device
// state changes. Every writer (session frames, REST, webhooks, schedules)
// funnels through it so the persisted document and the broadcast payload
// can never diverge.
type Service struct {
	store     *device.Store
	sessions  *session.Registry
	events    Publisher
	telemetry TelemetryWriter
	logger    Logger

	// mu guards locks; each per-device mutex holds merge and broadcast
	// together so broadcasts go out in commit order.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a relay service. events and telemetry may be nil.
func NewService(store *device.Store, sessions *session.Registry, events Publisher, telemetry TelemetryWriter, logger Logger) *Service {
	if telemetry == nil {
		telemetry = noopTelemetry{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Service{
		store:     store,
		sessions:  sessions,
		events:    events,
		telemetry: telemetry,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// deviceLock returns the pipeline mutex for a device, creating it on first
// use. Entries are never removed; the map is bounded by the device fleet.
func (s *Service) deviceLock(deviceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[deviceID] = lock
	}
	return lock
}

// authorize checks that a principal may control a device.
func (s *Service) authorize(p auth.Principal, d *device.Device) error {
	switch p.Kind {
	case auth.KindSystem:
		return nil
	case auth.KindDevice:
		if p.DeviceID == d.ID {
			return nil
		}
	case auth.KindUser:
		if p.IsAdmin || (d.OwnerID != "" && d.OwnerID == p.UserID) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnauthorized, d.ID)
}

// SetChannel flips a single channel to the desired state and returns the
// complete merged document.
//
// The pipeline is authorize, merge, persist, broadcast; any failure along
// it surfaces to the caller. The broadcast carries the persisted value of
// exactly the channel that was written.
func (s *Service) SetChannel(ctx context.Context, p auth.Principal, deviceID, channelKey string, on bool) (device.StateDocument, error) {
	if !channelKeyPattern.MatchString(channelKey) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, channelKey)
	}

	partial := device.StateDocument{
		channelKey: {"state": on},
	}

	merged, err := s.MergeDocument(ctx, p, deviceID, partial)
	if err != nil {
		return nil, err
	}

	s.telemetry.WriteChannelState(deviceID, channelKey, on)

	s.logger.Info("channel set",
		"device_id", deviceID,
		"channel", channelKey,
		"state", on,
		"principal", string(p.Kind),
	)

	return merged, nil
}

// MergeDocument applies a partial state document through the full
// authorize-merge-persist-broadcast pipeline and returns the merged result.
func (s *Service) MergeDocument(ctx context.Context, p auth.Principal, deviceID string, partial device.StateDocument) (device.StateDocument, error) {
	return s.mergeAndBroadcast(ctx, p, deviceID, partial, nil)
}

// mergeAndBroadcast is the shared pipeline core. exclude, when non-nil, is
// omitted from the broadcast (the connection that originated the change).
func (s *Service) mergeAndBroadcast(ctx context.Context, p auth.Principal, deviceID string, partial device.StateDocument, exclude session.Conn) (device.StateDocument, error) {
	d, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(p, d); err != nil {
		return nil, err
	}

	// Merge and broadcast are held together under the pipeline lock: two
	// racing writers may land in either order, but the broadcasts go out in
	// the order the writes committed, so the last frame a viewer sees always
	// carries the value that survived.
	lock := s.deviceLock(deviceID)
	lock.Lock()

	merged, err := s.store.MergeState(ctx, deviceID, partial)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	// The broadcast names only the channels this write touched, carrying
	// their persisted values. Viewers hold the rest of the document already;
	// full state is fetched on connect, not pushed on every change.
	changed := make(device.StateDocument, len(partial))
	for key := range partial {
		if entry, ok := merged[key]; ok {
			changed[key] = entry
		}
	}

	frame, err := EncodeUpdate(changed)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("encode update: %w", err)
	}
	s.sessions.Broadcast(deviceID, frame, exclude)
	lock.Unlock()

	if s.events != nil {
		s.events.Publish(notify.StateChanged(deviceID, partial))
	}

	return merged, nil
}

// RecordTelemetry forwards sensor readings to the time-series backend.
func (s *Service) RecordTelemetry(deviceID string, readings map[string]any) {
	s.telemetry.WriteTelemetry(deviceID, readings)
}
