package core

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel kinds. Every concrete error below matches exactly one of these
// through errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrStorage            = errors.New("storage error")
	ErrCorrelationTimeout = errors.New("correlation timeout")
)

// ValidationError reports malformed or missing input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Is matches ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError with a formatted message
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown id
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// Is matches ErrNotFound
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InvalidStateError reports an illegal transition or a write that lost a
// concurrent race. Current holds the state observed at failure time so the
// caller can resynchronize.
type InvalidStateError struct {
	Kind      string
	ID        string
	Current   string
	Requested string
	Reason    string
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("invalid state for %s %s: current=%s", e.Kind, e.ID, e.Current)
	if e.Requested != "" {
		msg += " requested=" + e.Requested
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is matches ErrInvalidState
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// StorageError wraps a persistence failure
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is matches ErrStorage
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// NewStorageError wraps err unless it already carries a domain kind
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidState) || errors.Is(err, ErrValidation) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// CorrelationTimeoutError reports a correlation pass that ran out of budget.
// It is logged and never returned to an ingesting caller.
type CorrelationTimeoutError struct {
	EventID string
	RuleID  string
	Budget  time.Duration
}

func (e *CorrelationTimeoutError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("correlation of event %s exceeded %s", e.EventID, e.Budget)
	}
	return fmt.Sprintf("correlation of event %s exceeded %s at rule %s", e.EventID, e.Budget, e.RuleID)
}

// Is matches ErrCorrelationTimeout
func (e *CorrelationTimeoutError) Is(target error) bool {
	return target == ErrCorrelationTimeout
}

// CurrentState extracts the observed state from an InvalidStateError chain
func CurrentState(err error) (string, bool) {
	var ise *InvalidStateError
	if errors.As(err, &ise) {
		return ise.Current, true
	}
	return "", false
}
