package device

import (
	"fmt"
	"regexp"
)

// idPattern defines the valid format for device IDs:
// alphanumeric with dots, hyphens, underscores, 1-64 characters.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// maxNameLength is the maximum allowed device name length.
const maxNameLength = 128

// ValidateDevice checks a device for structural validity before persistence.
func ValidateDevice(d *Device) error {
	if d.ID == "" || !idPattern.MatchString(d.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, d.ID)
	}

	if d.Name == "" || len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidName, maxNameLength)
	}

	valid := false
	for _, t := range AllTypes() {
		if d.Type == t {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %q", ErrInvalidType, d.Type)
	}

	return nil
}
