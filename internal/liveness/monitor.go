package liveness

import (
	"context"
	"time"

	"github.com/homecontrol/homecontrol-core/internal/device"
	"github.com/homecontrol/homecontrol-core/internal/notify"
)

// Logger interface for monitor operations.
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

// Publisher enqueues notification events.
type Publisher interface {
	Publish(ev notify.Event) bool
}

// Default sweep cadence and staleness cutoff.
const (
	DefaultSweepInterval  = 60 * time.Second
	DefaultStaleThreshold = 5 * time.Minute
)

// Monitor demotes devices whose heartbeats have gone quiet.
//
// Every sweep it scans the online set and flips devices whose last_seen is
// older than the stale threshold to offline. It only ever demotes: promotion
// to online happens solely on authenticated device traffic. Devices that are
// offline and stale are left alone, so a sweep is idempotent.
type Monitor struct {
	store  *device.Store
	events Publisher
	logger Logger

	interval  time.Duration
	threshold time.Duration

	// now is replaceable for tests.
	now func() time.Time
}

// NewMonitor creates a liveness monitor. Non-positive durations fall back
// to the defaults. events may be nil.
func NewMonitor(store *device.Store, events Publisher, interval, threshold time.Duration, logger Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Monitor{
		store:     store,
		events:    events,
		logger:    logger,
		interval:  interval,
		threshold: threshold,
		now:       time.Now,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
// A failed sweep is logged and the loop carries on; the monitor never dies
// from a transient storage error.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("liveness monitor started",
		"interval", m.interval.String(),
		"threshold", m.threshold.String(),
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("liveness monitor stopped")
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.logger.Error("liveness sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs one pass over the online set, demoting stale devices.
// Returns the error from listing; per-device demotion failures are logged
// and do not abort the rest of the pass.
func (m *Monitor) Sweep(ctx context.Context) error {
	online, err := m.store.ListOnlineDevices(ctx)
	if err != nil {
		return err
	}

	cutoff := m.now().Add(-m.threshold)
	demoted := 0

	for _, d := range online {
		if d.LastSeen != nil && d.LastSeen.After(cutoff) {
			continue
		}

		if err := m.store.SetLiveness(ctx, d.ID, false, nil, nil); err != nil {
			m.logger.Warn("stale device demotion failed", "device_id", d.ID, "error", err)
			continue
		}

		demoted++
		m.logger.Info("device marked offline, heartbeats stale",
			"device_id", d.ID,
			"last_seen", d.LastSeen,
		)

		if m.events != nil {
			m.events.Publish(notify.DeviceOffline(d.ID))
		}
	}

	if demoted > 0 {
		m.logger.Debug("liveness sweep complete", "checked", len(online), "demoted", demoted)
	}
	return nil
}
