package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrToolNotRegistered is returned for calls to unknown tool names.
var ErrToolNotRegistered = errors.New("tool not registered")

// StatusError is a remote failure carrying an HTTP-style status code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote error: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("remote error: %d %s", e.Code, e.Message)
}

// StatusCode returns the status code.
func (e *StatusError) StatusCode() int { return e.Code }

// NewStatusError creates a StatusError.
func NewStatusError(code int, message string) *StatusError {
	return &StatusError{Code: code, Message: message}
}

// PanicError wraps a recovered handler panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("tool panicked: %v", e.Value)
}

// IsRetryable reports whether err is transient: a network-class failure,
// a 429 or a 5xx. Cancellation of the caller's context is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrToolNotRegistered) || errors.Is(err, context.Canceled) {
		return false
	}

	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		code := coded.StatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
