package common

import (
	"errors"
	"net/http"
)

// AppError represents an error with an attached code and HTTP status.
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

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// ErrorMapper translates a domain error into an AppError, returning nil when it does not recognise err.
type ErrorMapper func(error) *AppError

// WriteError renders err using the canonical envelope. AppErrors are rendered
// as-is; otherwise the mappers are tried in order before falling back to 500.
func WriteError(w http.ResponseWriter, err error, mappers ...ErrorMapper) {
	if err == nil {
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		for _, m := range mappers {
			if appErr = m(err); appErr != nil {
				break
			}
		}
	}
	if appErr == nil {
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusBadRequest
	}
	code := appErr.Code
	if code == "" {
		code = "BAD_REQUEST"
	}
	msg := appErr.Message
	if msg == "" {
		msg = err.Error()
	}
	JSONError(w, status, code, msg, appErr.Details)
}
