package auth

import (
	"context"
	"errors"
	"fmt"
)

// Credentials carries whatever the client presented at connect time.
// At most one scheme is honoured per connection.
type Credentials struct {
	// APIKey is the device shared secret, if presented.
	APIKey string

	// Token is the user JWT, if presented.
	Token string
}

// DeviceKeyResolver resolves a device shared secret to a device ID.
type DeviceKeyResolver interface {
	ResolveAPIKey(ctx context.Context, apiKey string) (deviceID string, err error)
}

// ConnectionValidator resolves connect-time credentials to a Principal.
//
// Scheme selection is strict: a presented API key commits the connection to
// the device scheme, and a key that matches no device is a hard reject —
// the validator never falls through to the JWT scheme. Connections with no
// credentials at all are rejected with ErrNoCredentials.
type ConnectionValidator struct {
	devices   DeviceKeyResolver
	jwtSecret string
}

// NewConnectionValidator creates a validator over the given device resolver
// and JWT signing secret.
func NewConnectionValidator(devices DeviceKeyResolver, jwtSecret string) *ConnectionValidator {
	return &ConnectionValidator{devices: devices, jwtSecret: jwtSecret}
}

// Validate resolves credentials to a Principal or rejects the connection.
func (v *ConnectionValidator) Validate(ctx context.Context, creds Credentials) (Principal, error) {
	switch {
	case creds.APIKey != "":
		deviceID, err := v.devices.ResolveAPIKey(ctx, creds.APIKey)
		if err != nil {
			// Hard reject: a bad device key never degrades to a JWT check.
			return Principal{}, fmt.Errorf("%w: unknown api key", ErrInvalidCredentials)
		}
		return DevicePrincipal(deviceID), nil

	case creds.Token != "":
		claims, err := ParseToken(creds.Token, v.jwtSecret)
		if err != nil {
			if errors.Is(err, ErrTokenInvalid) {
				return Principal{}, err
			}
			return Principal{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
		}
		return UserPrincipal(claims.Subject, claims.IsSuperuser), nil

	default:
		return Principal{}, ErrNoCredentials
	}
}
