package quarry

import (
	"errors"
	"fmt"
)

// Standard sentinel errors of the database layer.
var (
	// ErrDatabase is matched by every error of the database error taxonomy.
	ErrDatabase = errors.New("quarry: database error")

	// ErrNotNull is returned when a write violates a NOT NULL constraint.
	ErrNotNull = errors.New("quarry: not null constraint failed")
)

// DatabaseError represents an unexpected database failure. It is the base of
// the error taxonomy: errors.Is(err, ErrDatabase) holds for every error below.
type DatabaseError struct {
	Message string
	Details any   // Optional backend or caller provided details.
	Err     error // Underlying driver error, if any.
}

// Error returns the error string.
func (e *DatabaseError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unexpected database error"
	}
	if e.Err != nil {
		return fmt.Sprintf("quarry: %s: %v", msg, e.Err)
	}
	return "quarry: " + msg
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches DatabaseError.
func (e *DatabaseError) Is(err error) bool {
	return err == ErrDatabase
}

// NewDatabaseError returns a new DatabaseError wrapping err.
func NewDatabaseError(msg string, err error) *DatabaseError {
	return &DatabaseError{Message: msg, Err: err}
}

// IsDatabaseError returns true if the error belongs to the database error taxonomy.
func IsDatabaseError(err error) bool {
	return err != nil && errors.Is(err, ErrDatabase)
}

// NotNullError is a NOT NULL constraint violation translated from a
// backend specific error code.
type NotNullError struct {
	Column string // Empty when the backend does not expose the column.
	Err    error
}

// Error returns the error string.
func (e *NotNullError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("quarry: not null constraint failed (column: %s)", e.Column)
	}
	return "quarry: not null constraint failed"
}

// Unwrap returns the underlying error.
func (e *NotNullError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error is ErrNotNull or ErrDatabase.
func (e *NotNullError) Is(err error) bool {
	return err == ErrNotNull || err == ErrDatabase
}

// NewNotNullError returns a new NotNullError for the given column.
func NewNotNullError(column string, err error) *NotNullError {
	return &NotNullError{Column: column, Err: err}
}

// IsNotNullError returns true if the error is a NotNullError.
func IsNotNullError(err error) bool {
	if err == nil {
		return false
	}
	var e *NotNullError
	return errors.As(err, &e) || errors.Is(err, ErrNotNull)
}

// InvalidDateError is returned when a value cannot be used as a date column value.
type InvalidDateError struct {
	Value any
}

// Error returns the error string.
func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("quarry: invalid date format, expected YYYY-MM-DD (got %v)", e.Value)
}

// Is reports whether the target error is ErrDatabase.
func (e *InvalidDateError) Is(err error) bool { return err == ErrDatabase }

// InvalidTimeError is returned when a value cannot be used as a time column value.
type InvalidTimeError struct {
	Value any
}

// Error returns the error string.
func (e *InvalidTimeError) Error() string {
	return fmt.Sprintf("quarry: invalid time format, expected HH:mm:ss.SSS (got %v)", e.Value)
}

// Is reports whether the target error is ErrDatabase.
func (e *InvalidTimeError) Is(err error) bool { return err == ErrDatabase }

// InvalidDateTimeError is returned when a value cannot be used as a datetime column value.
type InvalidDateTimeError struct {
	Value any
}

// Error returns the error string.
func (e *InvalidDateTimeError) Error() string {
	return fmt.Sprintf("quarry: invalid datetime format, expected a timestamp or an ISO date (got %v)", e.Value)
}

// Is reports whether the target error is ErrDatabase.
func (e *InvalidDateTimeError) Is(err error) bool { return err == ErrDatabase }

// InvalidRelationError is returned when relation metadata or a relation
// payload is inconsistent.
type InvalidRelationError struct {
	Message string
}

// Error returns the error string.
func (e *InvalidRelationError) Error() string {
	if e.Message == "" {
		return "quarry: invalid relation"
	}
	return "quarry: invalid relation: " + e.Message
}

// Is reports whether the target error is ErrDatabase.
func (e *InvalidRelationError) Is(err error) bool { return err == ErrDatabase }

// NewInvalidRelationError returns a new InvalidRelationError with a formatted message.
func NewInvalidRelationError(format string, args ...any) *InvalidRelationError {
	return &InvalidRelationError{Message: fmt.Sprintf(format, args...)}
}

// IsInvalidDateError returns true if the error is an InvalidDateError.
func IsInvalidDateError(err error) bool {
	var e *InvalidDateError
	return errors.As(err, &e)
}

// IsInvalidTimeError returns true if the error is an InvalidTimeError.
func IsInvalidTimeError(err error) bool {
	var e *InvalidTimeError
	return errors.As(err, &e)
}

// IsInvalidDateTimeError returns true if the error is an InvalidDateTimeError.
func IsInvalidDateTimeError(err error) bool {
	var e *InvalidDateTimeError
	return errors.As(err, &e)
}

// IsInvalidRelationError returns true if the error is an InvalidRelationError.
func IsInvalidRelationError(err error) bool {
	var e *InvalidRelationError
	return errors.As(err, &e)
}
