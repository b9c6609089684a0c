package schedule

import (
	"context"
	"time"

	"github.com/homecontrol/homecontrol-core/internal/auth"
	"github.com/homecontrol/homecontrol-core/internal/device"
)

// Logger interface for scheduler operations.
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

// ChannelSetter executes the state change a due schedule asks for.
// Satisfied by the relay service.
type ChannelSetter interface {
	SetChannel(ctx context.Context, p auth.Principal, deviceID, channelKey string, on bool) (device.StateDocument, error)
}

// Scheduler fires daily channel switches on exact minute boundaries.
//
// The loop sleeps until the top of the next minute, then executes every
// active schedule whose HH:MM matches the minute just entered. Schedules
// run as the system principal. A tick that panics or fails is logged and
// the loop realigns for the next minute; the scheduler never dies.
type Scheduler struct {
	repo   Repository
	setter ChannelSetter
	logger Logger

	// now is replaceable for tests.
	now func() time.Time
}

// NewScheduler creates a scheduler over the given repository and executor.
func NewScheduler(repo Repository, setter ChannelSetter, logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Scheduler{
		repo:   repo,
		setter: setter,
		logger: logger,
		now:    time.Now,
	}
}

// Run executes the minute loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started")

	for {
		// Align to the top of the next minute. Computing the target from
		// the wall clock each pass keeps the loop self-correcting after
		// slow ticks or clock adjustments.
		now := s.now()
		next := now.Truncate(time.Minute).Add(time.Minute)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return
		case <-timer.C:
		}

		s.tick(ctx, next)
	}
}

// tick executes all schedules due at the given minute.
func (s *Scheduler) tick(ctx context.Context, minute time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler tick panicked", "panic", r)
		}
	}()

	timeOfDay := minute.Format("15:04")

	due, err := s.repo.ListDue(ctx, timeOfDay)
	if err != nil {
		s.logger.Error("listing due schedules failed", "minute", timeOfDay, "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	s.logger.Debug("executing due schedules", "minute", timeOfDay, "count", len(due))

	for _, sched := range due {
		_, err := s.setter.SetChannel(ctx, auth.SystemPrincipal(), sched.DeviceID, sched.ChannelKey, sched.DesiredState)
		if err != nil {
			// One broken schedule must not block the rest of the minute.
			s.logger.Warn("schedule execution failed",
				"schedule_id", sched.ID,
				"device_id", sched.DeviceID,
				"channel", sched.ChannelKey,
				"error", err,
			)
			continue
		}

		s.logger.Info("schedule executed",
			"schedule_id", sched.ID,
			"device_id", sched.DeviceID,
			"channel", sched.ChannelKey,
			"state", sched.DesiredState,
		)
	}
}
