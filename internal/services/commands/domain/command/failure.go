package command

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEntity indicates an entity type without a registry entry.
	ErrInvalidEntity = errors.New("entity type is not registered")
	// ErrNonRestorable indicates RESTORE against a type that cannot be restored.
	ErrNonRestorable = errors.New("entity type does not support restore")
	// ErrEntityNotFound indicates the target of UPDATE/DELETE/RESTORE is absent.
	ErrEntityNotFound = errors.New("target entity not found")
)

// MissingParentError reports a parent local reference with no match.
type MissingParentError struct {
	ParentType EntityType
	LocalID    string
}

func (e *MissingParentError) Error() string {
	return fmt.Sprintf("parent %s with local id %q not found", e.ParentType, e.LocalID)
}

// ValidationError reports a payload rejected by an entity validator.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a business-rule conflict detected by a handler.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Message
}

// Conflict builds a ConflictError.
func Conflict(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ClassifyFailure maps an execution error to its terminal status and reason.
// Anything unrecognized is an internal error.
func ClassifyFailure(err error) (Status, FailReason) {
	if err == nil {
		return StatusProcessed, FailReasonNone
	}
	var (
		missing  *MissingParentError
		invalid  *ValidationError
		conflict *ConflictError
	)
	switch {
	case errors.As(err, &conflict):
		return StatusConflicted, FailReasonConflict
	case errors.As(err, &missing):
		return StatusFailed, FailReasonMissingParentEntity
	case errors.As(err, &invalid):
		return StatusFailed, FailReasonValidationError
	case errors.Is(err, ErrInvalidEntity):
		return StatusFailed, FailReasonInvalidEntity
	case errors.Is(err, ErrNonRestorable):
		return StatusFailed, FailReasonNonRestorableEntity
	case errors.Is(err, ErrEntityNotFound):
		return StatusFailed, FailReasonEntityNotFound
	default:
		return StatusFailed, FailReasonInternalError
	}
}

// OutcomeFor converts an execution error into the outcome to record.
func OutcomeFor(err error) Outcome {
	status, reason := ClassifyFailure(err)
	return Outcome{Status: status, FailReason: reason}
}
