package validation

import (
	"errors"
	"strings"
)

var (
	// ErrNameRequired is returned when a required name field is empty
	ErrNameRequired = errors.New("name is required")

	// ErrNameTooLong is returned when a name exceeds the maximum length
	ErrNameTooLong = errors.New("name must be at most 120 characters")

	// ErrDescriptionTooLong is returned when a description exceeds the maximum length
	ErrDescriptionTooLong = errors.New("description must be at most 2000 characters")
)

// NormalizeName trims surrounding whitespace from a name.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// ValidateName validates an organization or project name:
// non-empty after trimming, at most 120 characters.
func ValidateName(name string) error {
	name = NormalizeName(name)
	if name == "" {
		return ErrNameRequired
	}
	if len(name) > 120 {
		return ErrNameTooLong
	}
	return nil
}

// ValidateDescription validates an optional description field.
func ValidateDescription(description string) error {
	if len(description) > 2000 {
		return ErrDescriptionTooLong
	}
	return nil
}
