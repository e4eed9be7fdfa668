/*
errors.go - Centralized error types for the quote core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Transport packages (remote, api) wrap these so callers can keep using
  errors.Is() regardless of where the failure happened.

ERROR CATEGORIES:
  1. Remote unavailable - network/backend failures; recovered locally
  2. Not found - document missing remotely and locally
  3. Validation - missing client name, no items, negative values
  4. Serialization - malformed JSON in local storage (treated as absent,
     never returned to callers; see local.go)

SEE ALSO:
  - service.go: Applies the propagation policy
  - remote/client.go: Maps HTTP failures onto these sentinels
*/
package quote

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRemoteUnavailable is returned when the remote document store
	// cannot be reached or answers with a server error.
	ErrRemoteUnavailable = errors.New("remote store unavailable")

	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is the root of every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrNotSignedIn is returned when an operation needs a current user.
	ErrNotSignedIn = errors.New("not signed in")

	// ErrUnauthorized is returned when the remote store rejects credentials.
	ErrUnauthorized = errors.New("unauthorized")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field found in one pass.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Has reports whether field is among the failures.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// DocumentNotFoundError carries the path that was missing.
type DocumentNotFoundError struct {
	Collection string
	ID         string
}

func (e *DocumentNotFoundError) Error() string {
	return fmt.Sprintf("document not found: %s/%s", e.Collection, e.ID)
}

func (e *DocumentNotFoundError) Unwrap() error {
	return ErrNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed once connectivity
// returns. Retryable errors send writes to the outbox.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable)
}

// IsClientError returns true if the error is due to invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotSignedIn)
}

// IsNotFound returns true if the error indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
