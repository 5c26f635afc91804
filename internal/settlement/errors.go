package settlement

import (
	"errors"
	"fmt"
)

// Error classes. Every rejection wraps exactly one of these sentinels so
// callers can dispatch with errors.Is: retry with different input
// (validation), re-drive the workflow (state conflict), stop entirely
// (authorization), wait or give up (temporal), never retry (replay).
var (
	// ErrValidation marks locally invalid input: zero amounts, inverted fee
	// ranges, out-of-range fees, oversized names.
	ErrValidation = errors.New("validation failed")

	// ErrStateConflict marks an operation against an entity not in the
	// required status: already accepted orders, inactive intents,
	// insufficient capacity, double execution.
	ErrStateConflict = errors.New("state conflict")

	// ErrUnauthorized marks a caller lacking the required role, a
	// blacklisted caller, or an engaged system lock.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTooEarly marks a deadline-gated operation attempted before the
	// deadline has passed.
	ErrTooEarly = errors.New("too early")

	// ErrTooLate marks an operation attempted after its deadline.
	ErrTooLate = errors.New("too late")

	// ErrReplay marks a message hash that has already bound an order.
	ErrReplay = errors.New("message hash already used")

	// ErrNotFound marks a lookup for an identifier that was never created.
	ErrNotFound = errors.New("not found")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStateConflict, fmt.Sprintf(format, args...))
}

func unauthorizedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

func tooEarlyf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTooEarly, fmt.Sprintf(format, args...))
}

func tooLatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTooLate, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
