// Package errors defines the sentinel errors shared across services and maps
// them to HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidQuery = errors.New("invalid query")
	// ErrIntegrity reports a storage state that should be impossible, such as a
	// conflicting insert whose row cannot then be read back.
	ErrIntegrity   = errors.New("integrity violation")
	ErrEmbedding   = errors.New("embedding failed")
	ErrIndex       = errors.New("vector index failed")
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrUnavailable = errors.New("dependency unavailable")
	ErrInternal    = errors.New("internal error")
	ErrTimeout     = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode picks the response status for err. An AppError's own code
// wins over the sentinel mapping.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrEmbedding), errors.Is(err, ErrIndex):
		return http.StatusBadGateway
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
