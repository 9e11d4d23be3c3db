// Package taskerr classifies engine errors so callers can pick the right
// recovery policy: reject, degrade, retry, or skip.
package taskerr

import (
	"errors"
	"fmt"
)

// Kind represents the classification of errors for recovery logic.
type Kind int

const (
	// KindValidation - malformed input, rejected before any mutation, never retried.
	KindValidation Kind = iota
	// KindNotFound - a reference did not resolve; proceed with missing context.
	KindNotFound
	// KindExecution - a predictor call failed; retried up to the configured budget.
	KindExecution
	// KindRegistry - artifact registration failed; logged and skipped.
	KindRegistry
	// KindCancelled - the execution was cooperatively cancelled.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindExecution:
		return "execution"
	case KindRegistry:
		return "registry"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ValidationError rejects malformed or unsafe input before registration.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError reports an unresolvable task or artifact reference.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ExecutionError wraps a predictor failure during an execute step.
type ExecutionError struct {
	TaskID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for task %s: %v", e.TaskID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// RegistryError wraps an artifact merge or enrichment failure. It must never
// abort the owning task.
type RegistryError struct {
	Path string
	Err  error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry failure for %s: %v", e.Path, e.Err)
}

func (e *RegistryError) Unwrap() error { return e.Err }

// CancelledError marks a node failed because the execution was cancelled.
type CancelledError struct {
	TaskID string
	Err    error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("task %s cancelled: %v", e.TaskID, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

// NewValidation builds a ValidationError for a named field.
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewNotFound builds a NotFoundError for a resource/id pair.
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsCancelled reports whether err is a CancelledError.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// KindOf classifies an arbitrary error. Unknown errors default to execution
// so they stay inside the retry budget instead of looping forever.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindExecution
	case IsValidation(err):
		return KindValidation
	case IsNotFound(err):
		return KindNotFound
	case IsCancelled(err):
		return KindCancelled
	default:
		var re *RegistryError
		if errors.As(err, &re) {
			return KindRegistry
		}
		return KindExecution
	}
}
