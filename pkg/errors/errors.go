package errors

import (
	"fmt"

	"github.com/vesabooks/printapi/internal/domain"
)

// ErrNotFound is returned when a resource is not found
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation is returned when validation fails
type ErrValidation struct {
	Message string
	Fields  map[string]string
}

func (e *ErrValidation) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "validation failed"
}

// ErrInvalidStateTransition is returned when an invalid state transition is attempted
type ErrInvalidStateTransition struct {
	From domain.PrintOrderStatus
	To   domain.PrintOrderStatus
}

func (e *ErrInvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// ErrSubmissionFailed is returned when a batch could not be handed to the
// fulfiller. Orders marked failed by it are not retried automatically.
type ErrSubmissionFailed struct {
	OrderReference string
	Cause          error
}

func (e *ErrSubmissionFailed) Error() string {
	return fmt.Sprintf("fulfiller submission failed for order %s: %v", e.OrderReference, e.Cause)
}

func (e *ErrSubmissionFailed) Unwrap() error {
	return e.Cause
}
