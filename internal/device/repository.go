package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Repository defines the interface for device persistence.
type Repository interface {
	// GetByID retrieves a device by its ID.
	// Returns ErrDeviceNotFound if the device doesn't exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// GetByAPIKey retrieves a device by its shared secret.
	// Returns ErrDeviceNotFound if no device carries the key.
	GetByAPIKey(ctx context.Context, apiKey string) (*Device, error)

	// List retrieves all devices ordered by ID.
	List(ctx context.Context) ([]*Device, error)

	// ListByOwner retrieves all devices belonging to a user.
	ListByOwner(ctx context.Context, ownerID string) ([]*Device, error)

	// ListOnline retrieves all devices currently marked online.
	ListOnline(ctx context.Context) ([]*Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the ID is already taken.
	Create(ctx context.Context, d *Device) error

	// Delete removes a device and its schedules.
	// Returns ErrDeviceNotFound if the device doesn't exist.
	Delete(ctx context.Context, id string) error

	// MergeState applies a partial state document atomically and returns
	// the complete merged document. The read-modify-write runs in a single
	// transaction; last_seen and updated_at advance alongside the state.
	MergeState(ctx context.Context, id string, partial StateDocument) (StateDocument, error)

	// SetLiveness records a liveness transition. lastSeen and ip are
	// optional; nil leaves the stored value untouched.
	SetLiveness(ctx context.Context, id string, online bool, lastSeen *time.Time, ip *string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed device repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, owner_id, name, type, api_key, online, last_seen, ip_address, state, created_at, updated_at`

// GetByID retrieves a device by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByAPIKey retrieves a device by its shared secret.
func (r *SQLiteRepository) GetByAPIKey(ctx context.Context, apiKey string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE api_key = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, apiKey))
}

// List retrieves all devices ordered by ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY id`
	return r.queryDevices(ctx, query)
}

// ListByOwner retrieves all devices belonging to a user.
func (r *SQLiteRepository) ListByOwner(ctx context.Context, ownerID string) ([]*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE owner_id = ? ORDER BY id`
	return r.queryDevices(ctx, query, ownerID)
}

// ListOnline retrieves all devices currently marked online.
func (r *SQLiteRepository) ListOnline(ctx context.Context) ([]*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE online = 1 ORDER BY id`
	return r.queryDevices(ctx, query)
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.State == nil {
		d.State = StateDocument{}
	}

	stateJSON, err := json.Marshal(d.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	query := `
		INSERT INTO devices (id, owner_id, name, type, api_key, online, last_seen, ip_address, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		d.ID, nullString(d.OwnerID), d.Name, string(d.Type), d.APIKey,
		d.Online, d.LastSeen, d.IPAddress, string(stateJSON),
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && errors.Is(sqliteErr.ExtendedCode, sqlite3.ErrConstraintUnique) {
			return fmt.Errorf("%w: %s", ErrDeviceExists, d.ID)
		}
		return fmt.Errorf("insert device: %w", err)
	}

	return nil
}

// Delete removes a device and its schedules.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE device_id = ?`, id); err != nil {
		return fmt.Errorf("delete schedules: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	return tx.Commit()
}

// MergeState applies a partial state document atomically.
//
// The whole read-modify-write is a single transaction so that concurrent
// writers on different connections cannot interleave between the read and
// the write. Keys absent from partial survive unchanged.
func (r *SQLiteRepository) MergeState(ctx context.Context, id string, partial StateDocument) (StateDocument, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stateJSON string
	err = tx.QueryRowContext(ctx, `SELECT state FROM devices WHERE id = ?`, id).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	current := StateDocument{}
	if stateJSON != "" {
		if err := json.Unmarshal([]byte(stateJSON), &current); err != nil {
			// Corrupt document: start fresh rather than wedge the device.
			current = StateDocument{}
		}
	}

	merged := current.Merge(partial)

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE devices SET state = ?, last_seen = ?, updated_at = ? WHERE id = ?`,
		string(mergedJSON), now, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("write state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return merged, nil
}

// SetLiveness records a liveness transition.
func (r *SQLiteRepository) SetLiveness(ctx context.Context, id string, online bool, lastSeen *time.Time, ip *string) error {
	sets := []string{"online = ?", "updated_at = ?"}
	args := []any{online, time.Now().UTC()}

	if lastSeen != nil {
		sets = append(sets, "last_seen = ?")
		args = append(args, lastSeen.UTC())
	}
	if ip != nil {
		sets = append(sets, "ip_address = ?")
		args = append(args, *ip)
	}
	args = append(args, id)

	query := `UPDATE devices SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update liveness: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	return nil
}

// queryDevices executes a query expected to return device rows.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]*Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// scanOne scans a single device row, mapping sql.ErrNoRows to ErrDeviceNotFound.
func (r *SQLiteRepository) scanOne(row *sql.Row) (*Device, error) {
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	return d, err
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*Device, error) {
	var d Device
	var ownerID sql.NullString
	var devType string
	var lastSeen sql.NullTime
	var ipAddress sql.NullString
	var stateJSON string

	err := s.Scan(
		&d.ID, &ownerID, &d.Name, &devType, &d.APIKey,
		&d.Online, &lastSeen, &ipAddress, &stateJSON,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Type = Type(devType)
	if ownerID.Valid {
		d.OwnerID = ownerID.String
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		d.LastSeen = &t
	}
	if ipAddress.Valid {
		ip := ipAddress.String
		d.IPAddress = &ip
	}

	d.State = StateDocument{}
	if stateJSON != "" {
		if err := json.Unmarshal([]byte(stateJSON), &d.State); err != nil {
			return nil, fmt.Errorf("unmarshal state for %s: %w", d.ID, err)
		}
	}

	return &d, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
