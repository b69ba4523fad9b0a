package common

import (
	"net/http"
)

// AppError carries an error code and HTTP status alongside the wrapped cause.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewConflict builds the canonical 409 returned when a version marker is
// stale. Details should carry the record's current marker so the client can
// re-read and re-submit.
func NewConflict(message string, err error, details any) *AppError {
	return &AppError{Code: "VERSION_CONFLICT", Message: message, HTTPStatus: http.StatusConflict, Err: err, Details: details}
}

// NewPrecondition builds the 422 returned for caller bugs such as negative
// box counts or out-of-range rates. Never retried, never clamped.
func NewPrecondition(message string, err error) *AppError {
	return &AppError{Code: "PRECONDITION", Message: message, HTTPStatus: http.StatusUnprocessableEntity, Err: err}
}
