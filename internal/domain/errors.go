package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// ValidationError reports malformed input. Nothing was mutated.
type ValidationError struct {
	Action string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Action == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Action, e.Reason)
}

// NewValidationError creates a ValidationError.
func NewValidationError(action, format string, args ...any) error {
	return &ValidationError{Action: action, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports that the current relationship does not permit the
// requested transition. Current is the state the actor holds toward the peer.
type ConflictError struct {
	Action  FriendAction
	Current RelationState
	Reason  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot %s while %s: %s", e.Action, e.Current, e.Reason)
}

// NotFoundError reports a user id unknown to the user directory.
type NotFoundError struct {
	UserID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("user %q not found", e.UserID)
}

// PersistenceError wraps a failure of a durable-store collaborator.
// The mutation was not applied and the caller may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Cause supports github.com/pkg/errors.Cause.
func (e *PersistenceError) Cause() error { return e.Err }

// NewPersistenceError wraps err, returning nil when err is nil.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// InternalSchemaError reports an outbound payload that fails its own schema.
// It is a programming defect and is never sent to any peer.
type InternalSchemaError struct {
	Action Action
	Err    error
}

func (e *InternalSchemaError) Error() string {
	return fmt.Sprintf("outbound %s violates its schema: %v", e.Action, e.Err)
}

func (e *InternalSchemaError) Unwrap() error { return e.Err }

// ErrRateLimited is returned when a session sends inbound events too fast.
var ErrRateLimited = errors.New("too many requests")

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

// IsInternalSchema reports whether err is (or wraps) an InternalSchemaError.
func IsInternalSchema(err error) bool {
	var target *InternalSchemaError
	return errors.As(err, &target)
}
