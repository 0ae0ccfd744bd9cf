package database

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrForeignKey      = errors.New("foreign key constraint failed")
	ErrUniqueViolation = errors.New("unique constraint violated")
	ErrNotNull         = errors.New("not null constraint failed")
	ErrCheckConstraint = errors.New("check constraint failed")
)

type ConstraintError struct {
	Type    string
	Table   string
	Column  string
	Message string
	Cause   error
}

func (e *ConstraintError) Error() string {
	return e.Message
}

func (e *ConstraintError) Unwrap() error {
	return e.Cause
}

var (
	fkPattern     = regexp.MustCompile(`FOREIGN KEY constraint failed`)
	uniquePattern = regexp.MustCompile(`UNIQUE constraint failed: ([^\s]+)`)
	notNullRegex  = regexp.MustCompile(`NOT NULL constraint failed: ([^\s]+)`)
	checkRegex    = regexp.MustCompile(`CHECK constraint failed`)
)

// ClassifyError maps SQLite constraint failures onto ConstraintError so
// callers can match them with errors.Is. Other errors pass through.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()

	if fkPattern.MatchString(errStr) {
		return &ConstraintError{
			Type:    "foreign_key",
			Cause:   ErrForeignKey,
			Message: "referenced record does not exist",
		}
	}

	if matches := uniquePattern.FindStringSubmatch(errStr); len(matches) == 2 {
		ce := &ConstraintError{
			Type:    "unique",
			Cause:   ErrUniqueViolation,
			Message: "a record with this value already exists",
		}
		splitColumn(ce, matches[1])
		return ce
	}

	if matches := notNullRegex.FindStringSubmatch(errStr); len(matches) == 2 {
		ce := &ConstraintError{
			Type:    "not_null",
			Cause:   ErrNotNull,
			Message: "required field is missing",
		}
		splitColumn(ce, matches[1])
		return ce
	}

	if checkRegex.MatchString(errStr) {
		return &ConstraintError{
			Type:    "check",
			Cause:   ErrCheckConstraint,
			Message: "value does not meet requirements",
		}
	}

	return err
}

func splitColumn(ce *ConstraintError, qualified string) {
	parts := strings.Split(qualified, ".")
	if len(parts) == 2 {
		ce.Table = parts[0]
		ce.Column = parts[1]
		ce.Message += " (" + qualified + ")"
	}
}

func IsConstraintError(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce)
}
