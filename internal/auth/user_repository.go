package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// UserRepository defines the interface for user persistence.
type UserRepository interface {
	// GetByID retrieves a user by ID. Returns ErrUserNotFound if absent.
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	// Returns ErrUserNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Create inserts a new user. Returns ErrEmailExists on duplicate email.
	Create(ctx context.Context, u *User) error

	// Authenticate verifies email and password, returning the user on
	// success. Returns ErrInvalidCredentials on mismatch and
	// ErrUserInactive for disabled accounts.
	Authenticate(ctx context.Context, email, password string) (*User, error)
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewSQLiteUserRepository creates a new SQLite-backed user repository.
func NewSQLiteUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const userColumns = `id, email, full_name, password_hash, is_active, is_superuser, created_at, updated_at`

// GetByID retrieves a user by ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves a user by email, matched case-insensitively.
func (r *SQLiteUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ? COLLATE NOCASE`
	return r.scanOne(r.db.QueryRowContext(ctx, query, strings.ToLower(email)))
}

// Create inserts a new user.
func (r *SQLiteUserRepository) Create(ctx context.Context, u *User) error {
	if !IsValidEmail(u.Email) {
		return fmt.Errorf("%w: invalid email %q", ErrInvalidCredentials, u.Email)
	}

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	query := `
		INSERT INTO users (id, email, full_name, password_hash, is_active, is_superuser, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		u.ID, strings.ToLower(u.Email), u.FullName, u.PasswordHash,
		u.IsActive, u.IsSuperuser, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && errors.Is(sqliteErr.ExtendedCode, sqlite3.ErrConstraintUnique) {
			return fmt.Errorf("%w: %s", ErrEmailExists, u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// Authenticate verifies email and password.
//
// The password check runs even for unknown emails (against a dummy hash) so
// that response timing does not reveal which addresses exist.
func (r *SQLiteUserRepository) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := r.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		_, _ = VerifyPassword(password, dummyHash)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}

	if !u.IsActive {
		return nil, ErrUserInactive
	}

	return u, nil
}

// dummyHash is a valid Argon2id hash of an unguessable value, used to
// equalise timing when the email lookup misses.
const dummyHash = "$argon2id$v=19$m=65536,t=3,p=1$AAAAAAAAAAAAAAAAAAAAAA$Tq1DevT5+WKX2ZZsDpkbcbacnDvXk1m1bEYZ1lGpxUo"

func (r *SQLiteUserRepository) scanOne(row *sql.Row) (*User, error) {
	var u User
	var fullName sql.NullString

	err := row.Scan(
		&u.ID, &u.Email, &fullName, &u.PasswordHash,
		&u.IsActive, &u.IsSuperuser, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}

	if fullName.Valid {
		u.FullName = fullName.String
	}
	return &u, nil
}
