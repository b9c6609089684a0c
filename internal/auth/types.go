package auth

import (
	"errors"
	"net/mail"
	"time"
)

// PrincipalKind classifies who is on the other end of a connection or request.
type PrincipalKind string

const (
	// KindDevice is a physical controller authenticated by its shared secret.
	KindDevice PrincipalKind = "device"

	// KindUser is a human account authenticated by JWT. Users observe device
	// state and issue commands; their traffic never drives device liveness.
	KindUser PrincipalKind = "user"

	// KindSystem is the internal actor used by schedules and maintenance
	// loops. Never derived from external credentials.
	KindSystem PrincipalKind = "system"
)

// Principal is the resolved identity attached to a connection or request.
type Principal struct {
	Kind     PrincipalKind `json:"kind"`
	DeviceID string        `json:"device_id,omitempty"`
	UserID   string        `json:"user_id,omitempty"`
	IsAdmin  bool          `json:"is_admin,omitempty"`
}

// DevicePrincipal builds the identity for a device-authenticated connection.
func DevicePrincipal(deviceID string) Principal {
	return Principal{Kind: KindDevice, DeviceID: deviceID}
}

// UserPrincipal builds the identity for a JWT-authenticated user.
func UserPrincipal(userID string, isAdmin bool) Principal {
	return Principal{Kind: KindUser, UserID: userID, IsAdmin: isAdmin}
}

// SystemPrincipal builds the internal scheduler/maintenance identity.
func SystemPrincipal() Principal {
	return Principal{Kind: KindSystem}
}

// IsDevice reports whether the principal is a device identity.
func (p Principal) IsDevice() bool { return p.Kind == KindDevice }

// IsSystem reports whether the principal is the internal system identity.
func (p Principal) IsSystem() bool { return p.Kind == KindSystem }

// User represents a human account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name,omitempty"`
	PasswordHash string    `json:"-"` // never serialised
	IsActive     bool      `json:"is_active"`
	IsSuperuser  bool      `json:"is_superuser"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsValidEmail checks that an address parses as RFC 5322.
func IsValidEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrEmailExists        = errors.New("email already registered")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrNoCredentials      = errors.New("no credentials presented")
	ErrForbidden          = errors.New("insufficient permissions")
)
