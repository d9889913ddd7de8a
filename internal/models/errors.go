package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("requested resource not found")
var ErrForbidden = errors.New("actor does not have permission for this operation")
var ErrInsufficientStock = errors.New("insufficient stock for requested quantity")
var ErrOTPInvalid = errors.New("otp code is invalid")
var ErrOTPExpired = errors.New("otp code has expired")

// ValidationError reports bad input or a role violation. No state is changed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Validationf builds a ValidationError with a formatted reason.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError reports a state-machine precondition violation with
// the specific reason, so callers can explain why a transition was rejected.
type InvalidTransitionError struct {
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// ConflictError reports a duplicate active request or double assignment. When
// an equivalent resource already exists its id is carried to aid recovery.
type ConflictError struct {
	Reason     string
	ExistingID uuid.UUID
}

func (e *ConflictError) Error() string { return e.Reason }

// GatewayError wraps a payment gateway failure. Local state is left as it was
// before the call; the caller may retry.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
