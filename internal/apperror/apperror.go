// Package apperror defines the error taxonomy shared by the service and
// HTTP layers.
//
// Services return (possibly wrapped) *AppError values. Handlers use
// errors.Is against the sentinels below to pick a status code, and show the
// caller only AppError.Message. Nothing else from an error chain ever reaches
// a client.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrConflict           = errors.New("conflict")
	ErrInvalidProvider    = errors.New("invalid provider")
	ErrInvalidAccessToken = errors.New("invalid access token")
	ErrPersistence        = errors.New("persistence error")
	ErrDataCorruption     = errors.New("data corruption")
)

type AppError struct {
	Err     error  // sentinel from the list above
	Message string // Human-readable, safe to show to API callers
	Field   string // Optional: request field causing the error
	Cause   error  // Optional: underlying failure, for logs only
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause so errors.Is / errors.As
// can see either.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string, cause error) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
		Cause:   cause,
	}
}

// InvalidProvider is returned when a token misses the session store and the
// request names no supported provider.
func InvalidProvider() *AppError {
	return &AppError{
		Err:     ErrInvalidProvider,
		Message: "invalid provider",
		Field:   "provider",
	}
}

// InvalidAccessToken covers every reason an identity could not be
// established. The cause is kept for logging but never rendered.
func InvalidAccessToken(cause error) *AppError {
	return &AppError{
		Err:     ErrInvalidAccessToken,
		Message: "invalid access_token",
		Field:   "access_token",
		Cause:   cause,
	}
}

// Persistence wraps a failed store read or write.
func Persistence(operation string, cause error) *AppError {
	return &AppError{
		Err:     ErrPersistence,
		Message: "internal error",
		Cause:   fmt.Errorf("%s: %w", operation, cause),
	}
}

// DataCorruption reports an integrity violation such as two rows for one id.
func DataCorruption(detail string) *AppError {
	return &AppError{
		Err:     ErrDataCorruption,
		Message: "internal error",
		Cause:   errors.New(detail),
	}
}
