package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for schedule persistence.
type Repository interface {
	// Create inserts a new schedule, assigning an ID if empty.
	Create(ctx context.Context, s *Schedule) error

	// GetByID retrieves a schedule. Returns ErrScheduleNotFound if absent.
	GetByID(ctx context.Context, id string) (*Schedule, error)

	// ListByDevice retrieves all schedules for a device.
	ListByDevice(ctx context.Context, deviceID string) ([]*Schedule, error)

	// ListDue retrieves active schedules whose time_of_day equals the
	// given "HH:MM" minute.
	ListDue(ctx context.Context, timeOfDay string) ([]*Schedule, error)

	// SetActive enables or disables a schedule.
	SetActive(ctx context.Context, id string, active bool) error

	// Delete removes a schedule. Returns ErrScheduleNotFound if absent.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed schedule repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const scheduleColumns = `id, device_id, channel_key, desired_state, time_of_day, active, created_at`

// Create inserts a new schedule.
func (r *SQLiteRepository) Create(ctx context.Context, s *Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO schedules (id, device_id, channel_key, desired_state, time_of_day, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.DeviceID, s.ChannelKey, s.DesiredState, s.TimeOfDay, s.Active, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetByID retrieves a schedule by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = ?`
	s, err := scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	return s, err
}

// ListByDevice retrieves all schedules for a device ordered by time.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string) ([]*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE device_id = ? ORDER BY time_of_day`
	return r.querySchedules(ctx, query, deviceID)
}

// ListDue retrieves active schedules matching the given minute.
func (r *SQLiteRepository) ListDue(ctx context.Context, timeOfDay string) ([]*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE active = 1 AND time_of_day = ? ORDER BY id`
	return r.querySchedules(ctx, query, timeOfDay)
}

// SetActive enables or disables a schedule.
func (r *SQLiteRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx, `UPDATE schedules SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return nil
}

// Delete removes a schedule.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return nil
}

func (r *SQLiteRepository) querySchedules(ctx context.Context, query string, args ...any) ([]*Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(sc scanner) (*Schedule, error) {
	var s Schedule
	err := sc.Scan(&s.ID, &s.DeviceID, &s.ChannelKey, &s.DesiredState, &s.TimeOfDay, &s.Active, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
