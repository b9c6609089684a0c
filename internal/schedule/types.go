package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Schedule is a daily channel switch: at TimeOfDay, set ChannelKey on the
// device to DesiredState.
type Schedule struct {
	ID           string `json:"id"`
	DeviceID     string `json:"device_id"`
	ChannelKey   string `json:"channel_key"`
	DesiredState bool   `json:"desired_state"`

	// TimeOfDay is a 24-hour wall-clock minute, "HH:MM", in server-local
	// time. Schedules fire when the current minute matches exactly.
	TimeOfDay string `json:"time_of_day"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// timeOfDayPattern matches zero-padded 24-hour "HH:MM".
var timeOfDayPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Sentinel errors for schedule operations.
var (
	ErrScheduleNotFound = errors.New("schedule: not found")
	ErrInvalidSchedule  = errors.New("schedule: invalid")
)

// Validate checks a schedule for structural validity.
func (s *Schedule) Validate() error {
	if s.DeviceID == "" {
		return fmt.Errorf("%w: device_id required", ErrInvalidSchedule)
	}
	if s.ChannelKey == "" {
		return fmt.Errorf("%w: channel_key required", ErrInvalidSchedule)
	}
	if !timeOfDayPattern.MatchString(s.TimeOfDay) {
		return fmt.Errorf("%w: time_of_day %q must be HH:MM", ErrInvalidSchedule, s.TimeOfDay)
	}
	return nil
}
