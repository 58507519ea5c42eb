package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "NOT_FOUND"
	ErrorTypeCancelled     ErrorType = "CANCELLED"
	ErrorTypeStaleSnapshot ErrorType = "STALE_SNAPSHOT"
	ErrorTypeInvariant     ErrorType = "INVARIANT"
	ErrorTypeValidation    ErrorType = "VALIDATION"
	ErrorTypeInternal      ErrorType = "INTERNAL"
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound reports an element that failed existence validation.
func NotFound(message string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

// Cancelled wraps the context error observed by a long running operation.
func Cancelled(err error) *Error {
	return &Error{
		Type:    ErrorTypeCancelled,
		Message: "operation cancelled",
		Code:    499,
		Err:     err,
	}
}

// StaleSnapshot reports a position interpreted against an outdated snapshot.
func StaleSnapshot(message string) *Error {
	return &Error{
		Type:    ErrorTypeStaleSnapshot,
		Message: message,
		Code:    http.StatusConflict,
	}
}

// Invariant reports a broken collaborator contract.
func Invariant(message string) *Error {
	return &Error{
		Type:    ErrorTypeInvariant,
		Message: message,
		Code:    http.StatusInternalServerError,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Code:    http.StatusBadRequest,
		Details: details,
	}
}

func Internal(message string, err error) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Message: message,
		Code:    http.StatusInternalServerError,
		Err:     err,
	}
}

// TypeOf returns the type of the first *Error in err's chain, or "".
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ""
}

// CodeOf returns the HTTP status associated with err.
func CodeOf(err error) int {
	var e *Error
	if stderrors.As(err, &e) && e.Code != 0 {
		return e.Code
	}
	return http.StatusInternalServerError
}

func IsNotFound(err error) bool      { return TypeOf(err) == ErrorTypeNotFound }
func IsCancelled(err error) bool     { return TypeOf(err) == ErrorTypeCancelled }
func IsStaleSnapshot(err error) bool { return TypeOf(err) == ErrorTypeStaleSnapshot }
func IsInvariant(err error) bool     { return TypeOf(err) == ErrorTypeInvariant }
func IsValidation(err error) bool    { return TypeOf(err) == ErrorTypeValidation }

// As and Is forward to the standard library so callers need one errors
// import.
func As(err error, target any) bool { return stderrors.As(err, target) }
func Is(err, target error) bool     { return stderrors.Is(err, target) }
