package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("schedule not found")
	// ErrInvalidTransition is returned when a lifecycle operation does not
	// apply to the schedule's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrValidation is matched by ValidationError and ValidationErrors.
	ErrValidation = errors.New("invalid schedule")
)

// NotFoundError reports an unknown schedule id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("schedule not found: %s", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ValidationError reports one malformed field of a schedule spec.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ValidationErrors collects every problem found in one spec.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, err := range e {
		parts = append(parts, err.Error())
	}
	return "invalid schedule: " + strings.Join(parts, "; ")
}

func (e ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationErrors) add(field, message string) {
	*e = append(*e, &ValidationError{Field: field, Message: message})
}

func (e ValidationErrors) err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
