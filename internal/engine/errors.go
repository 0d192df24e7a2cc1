package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/replica/internal/record"
)

// Code categorizes engine errors.
type Code string

const (
	// CodeNotFound indicates a required record does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeUniqueViolation indicates a write would duplicate a primary key
	// or declared unique value.
	CodeUniqueViolation Code = "UNIQUE_VIOLATION"

	// CodeReferentialIntegrity indicates a foreign key points at a missing
	// record, or a delete is restricted by existing dependents.
	CodeReferentialIntegrity Code = "REFERENTIAL_INTEGRITY"

	// CodeInvalidRelation indicates an invalid relation operation, such as
	// disconnecting a required relation.
	CodeInvalidRelation Code = "INVALID_RELATION"

	// CodeValidation indicates a record failed its model validator.
	CodeValidation Code = "VALIDATION"

	// CodeInvalidArgument indicates malformed query or mutation arguments.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodeStorage wraps an underlying storage failure.
	CodeStorage Code = "STORAGE"
)

// Error is a structured engine error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Model names the affected model, when known.
	Model string

	// Message is a human-readable description.
	Message string

	// Key identifies the affected record, when known.
	Key record.KeyPath

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Model != "" {
		msg += fmt.Sprintf(" (model=%s", e.Model)
		if len(e.Key) > 0 {
			msg += fmt.Sprintf(", key=%s", e.Key.String())
		}
		msg += ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func is(err error, code Code) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return is(err, CodeNotFound) }

// IsUniqueViolation reports whether err is a unique-violation error.
func IsUniqueViolation(err error) bool { return is(err, CodeUniqueViolation) }

// IsReferentialIntegrity reports whether err is a referential-integrity
// error.
func IsReferentialIntegrity(err error) bool { return is(err, CodeReferentialIntegrity) }

// IsInvalidRelation reports whether err is an invalid relation-operation
// error.
func IsInvalidRelation(err error) bool { return is(err, CodeInvalidRelation) }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return is(err, CodeValidation) }

func notFound(model string, key record.KeyPath) *Error {
	return &Error{Code: CodeNotFound, Model: model, Key: key, Message: "record not found"}
}

func uniqueViolation(model string, key record.KeyPath, what string) *Error {
	return &Error{Code: CodeUniqueViolation, Model: model, Key: key,
		Message: fmt.Sprintf("duplicate %s", what)}
}

func referential(model, msg string) *Error {
	return &Error{Code: CodeReferentialIntegrity, Model: model, Message: msg}
}

func invalidRelation(model, msg string) *Error {
	return &Error{Code: CodeInvalidRelation, Model: model, Message: msg}
}

func invalidArgument(model, msg string) *Error {
	return &Error{Code: CodeInvalidArgument, Model: model, Message: msg}
}

func validation(model string, key record.KeyPath, err error) *Error {
	return &Error{Code: CodeValidation, Model: model, Key: key,
		Message: err.Error(), Err: err}
}

func storage(model string, err error) error {
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}
	return &Error{Code: CodeStorage, Model: model, Message: err.Error(), Err: err}
}
