// Package errors provides common domain error types for the aegis moderation
// service.
//
// This package defines sentinel errors for common domain conditions like "not
// found" or "conflict" that can be used across all packages. Using typed errors
// enables consistent error handling patterns with errors.Is() checks.
//
// Usage:
//
//	import agerrors "github.com/aegis-moderation/aegis/pkg/errors"
//
//	// Return a domain error
//	return nil, agerrors.ErrNotFound
//
//	// Check for domain errors
//	if agerrors.IsNotFound(err) {
//	    // handle not found case
//	}
package errors

import "errors"

// Domain errors - common sentinel errors for domain conditions.
var (
	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a conflict with existing data (e.g., duplicate key).
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrNotConfigured indicates a required configuration value (API key,
	// model name, content-type toggle) is absent, so the operation was never
	// attempted.
	ErrNotConfigured = errors.New("not configured")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotConfigured reports whether any error in err's chain is ErrNotConfigured.
func IsNotConfigured(err error) bool {
	return errors.Is(err, ErrNotConfigured)
}
