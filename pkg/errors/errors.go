// Package errors defines the sentinel errors shared by the matcher services
// and maps them to HTTP status codes. An AppError attaches a caller-facing
// message and an explicit status to a sentinel.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrArticleNotFound = errors.New("article not found")
	ErrUnavailable     = errors.New("dependency unavailable")
	ErrTimeout         = errors.New("operation timed out")
	ErrInternal        = errors.New("internal error")
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

// Message returns the text safe to show a client for err: the AppError's
// message when there is one, else the first sentinel's own text. Unknown
// errors are reported as internal so their details stay in the logs.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	for _, sentinel := range []error{
		ErrInvalidInput, ErrPayloadTooLarge, ErrArticleNotFound, ErrUnavailable, ErrTimeout,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ErrInternal.Error()
}

// HTTPStatusCode returns the status an AppError carries, or the status
// implied by the first matching sentinel in err's chain.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrArticleNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
