// Package faults defines the sentinel errors that classify every failure the
// engine can surface. Callers match them with errors.Is.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks failures worth retrying: network errors, timeouts,
	// remote-store unavailability.
	ErrTransient = errors.New("transient failure")

	// ErrValidation marks failures that retrying cannot fix: oversized
	// payloads, malformed drawings. Surfaced immediately, never requeued.
	ErrValidation = errors.New("validation failure")

	// ErrConflict marks a key collision detected during record matching.
	// Resolved by isolation, never treated as fatal.
	ErrConflict = errors.New("conflict")

	// ErrNotFound marks a record that is absent locally or vanished remotely.
	// A vanished remote record means "needs recreation", not a crash.
	ErrNotFound = errors.New("not found")
)

// IsRetryable reports whether err should be requeued with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Transientf wraps a formatted message with ErrTransient.
func Transientf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrTransient)...)
}

// Validationf wraps a formatted message with ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}
