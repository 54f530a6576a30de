package engine

import (
	"errors"
	"fmt"
)

// Code is a stable, user-visible error code. Facades map codes to their wire
// conventions; the engine never hides its own errors.
type Code string

const (
	CodeTaskNotFound           Code = "task_not_found"
	CodeReceiptNotFound        Code = "receipt_not_found"
	CodeInvalidStateTransition Code = "invalid_state_transition"
	CodeUnauthorized           Code = "unauthorized"
	CodeIdempotencyConflict    Code = "idempotency_conflict"
	CodeLeaseInvalidOrExpired  Code = "lease_invalid_or_expired"
	CodeRenewalLimitExceeded   Code = "renewal_limit_exceeded"
	CodeLifetimeExceeded       Code = "lifetime_exceeded"
	CodeValidation             Code = "validation_error"
	CodeRateLimited            Code = "rate_limited"
)

// Error is a tagged engine error carrying a stable code and the id of the
// entity that failed.
type Error struct {
	Code    Code
	Entity  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, msg, e.Entity)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the engine error code, or "" for untagged errors.
func CodeOf(err error) Code {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// NewTaskNotFound tags an unknown task id.
func NewTaskNotFound(taskID string) *Error {
	return &Error{Code: CodeTaskNotFound, Entity: taskID, Message: "task not found"}
}

// NewReceiptNotFound tags an unknown receipt id.
func NewReceiptNotFound(receiptID string) *Error {
	return &Error{Code: CodeReceiptNotFound, Entity: receiptID, Message: "receipt not found"}
}

// NewInvalidStateTransition tags a move the state-machine table disallows.
func NewInvalidStateTransition(taskID, from, to string) *Error {
	return &Error{
		Code:    CodeInvalidStateTransition,
		Entity:  taskID,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

// NewUnauthorized tags an operation by a principal that does not own the entity.
func NewUnauthorized(entity, message string) *Error {
	return &Error{Code: CodeUnauthorized, Entity: entity, Message: message}
}

// NewLeaseInvalidOrExpired tags a mutation attempted without a live lease.
// The worker has lost authority; the correct response is to drop the result.
func NewLeaseInvalidOrExpired(taskID, leaseID string) *Error {
	return &Error{
		Code:    CodeLeaseInvalidOrExpired,
		Entity:  taskID,
		Message: fmt.Sprintf("lease %s is invalid or expired", leaseID),
	}
}

// NewRenewalLimitExceeded tags a renew beyond max_lease_renewals.
func NewRenewalLimitExceeded(leaseID string, limit int) *Error {
	return &Error{
		Code:    CodeRenewalLimitExceeded,
		Entity:  leaseID,
		Message: fmt.Sprintf("lease renewal limit of %d reached", limit),
	}
}

// NewLifetimeExceeded tags a renew that would stretch past max_lease_lifetime.
func NewLifetimeExceeded(leaseID string) *Error {
	return &Error{
		Code:    CodeLifetimeExceeded,
		Entity:  leaseID,
		Message: "lease lifetime cap would be exceeded",
	}
}

// NewValidation tags malformed input: body too large, too many parents,
// terminal receipt without parents, unknown parent, illegal terminator type.
func NewValidation(entity, message string) *Error {
	return &Error{Code: CodeValidation, Entity: entity, Message: message}
}

// NewIdempotencyConflict tags the internal race where a concurrent creation
// won the unique-constraint insert; callers resolve it by re-reading in a
// fresh snapshot.
func NewIdempotencyConflict(key string, err error) *Error {
	return &Error{Code: CodeIdempotencyConflict, Entity: key, Message: "idempotency key conflict", Err: err}
}
