package model

import (
	"errors"
	"fmt"
)

var (
	// ErrPreconditionViolation is returned when a transition or settlement is
	// attempted while its guard is unmet. Never retried automatically.
	ErrPreconditionViolation = errors.New("model: precondition violation")

	// ErrConcurrentModification is returned when the status compare-and-set
	// lost against another writer.
	ErrConcurrentModification = errors.New("model: concurrent modification")

	// ErrMalformedInput is returned for missing or invalid payload fields.
	ErrMalformedInput = errors.New("model: malformed input")

	// ErrExternalUnavailable wraps storage failures the core cannot resolve.
	ErrExternalUnavailable = errors.New("model: storage unavailable")

	ErrNotFound = errors.New("model: not found")
)

// Guard names reported with a PreconditionError.
const (
	GuardInvalidTransition   = "invalid_transition"
	GuardWrongStatus         = "wrong_status"
	GuardNoSuppliers         = "no_suppliers"
	GuardFillsExist          = "fills_exist"
	GuardNotFilled           = "not_filled"
	GuardMissingClientFill   = "missing_client_fill"
	GuardDuplicateClientFill = "duplicate_client_fill"
	GuardMissingAgentFill    = "missing_agent_fill"
	GuardAlreadySettled      = "already_settled"
	GuardMalformedFill       = "malformed_fill"
	GuardNotAssigned         = "not_assigned"
	GuardInvalidResult       = "invalid_result"
	GuardAlreadyProcessed    = "already_processed"
)

// PreconditionError names the guard that failed so callers can present a
// precise message.
type PreconditionError struct {
	Guard  string
	Detail string
}

func (e *PreconditionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", ErrPreconditionViolation, e.Guard)
	}
	return fmt.Sprintf("%s: %s: %s", ErrPreconditionViolation, e.Guard, e.Detail)
}

func (e *PreconditionError) Unwrap() error { return ErrPreconditionViolation }

// Precondition builds a PreconditionError with a formatted detail.
func Precondition(guard, format string, args ...any) error {
	return &PreconditionError{Guard: guard, Detail: fmt.Sprintf(format, args...)}
}

// GuardOf extracts the failed guard from err, or "" when err is not a
// precondition failure.
func GuardOf(err error) string {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return pe.Guard
	}
	return ""
}
