// Package apperr defines the error taxonomy shared by the alert pipeline.
// Callers wrap one of the sentinels with context and classify with the Is*
// helpers; errors.Is sees through any number of %w wraps.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed client input. Not retried.
	ErrValidation = errors.New("validation error")
	// ErrProvider marks a transient failure of an external service
	// (weather provider, push service).
	ErrProvider = errors.New("provider error")
	// ErrEndpointGone marks a push endpoint that will never accept delivery again.
	ErrEndpointGone = errors.New("endpoint gone")
	// ErrStorage marks a durable store failure.
	ErrStorage = errors.New("storage error")
	// ErrNotFound marks a lookup with no result.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyDispatched is returned when an alert's tally was already recorded.
	ErrAlreadyDispatched = errors.New("alert already dispatched")
)

func NewValidation(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, a...))
}

func NewProvider(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrProvider, fmt.Sprintf(format, a...))
}

func NewEndpointGone(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrEndpointGone, fmt.Sprintf(format, a...))
}

func NewNotFound(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, a...))
}

// Storage wraps err as a storage failure for the named operation.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Provider wraps err as a transient provider failure for the named operation.
func Provider(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
}

func IsValidation(err error) bool   { return errors.Is(err, ErrValidation) }
func IsProvider(err error) bool     { return errors.Is(err, ErrProvider) }
func IsEndpointGone(err error) bool { return errors.Is(err, ErrEndpointGone) }
func IsStorage(err error) bool      { return errors.Is(err, ErrStorage) }
func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
