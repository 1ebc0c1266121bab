// Package errs normalizes transport and remote failures into typed,
// retry-aware errors.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure for retry and reporting decisions.
type Kind string

const (
	KindNetwork    Kind = "NETWORK"
	KindTimeout    Kind = "TIMEOUT"
	KindAuth       Kind = "AUTH"
	KindValidation Kind = "VALIDATION"
	KindConflict   Kind = "CONFLICT"
	KindRateLimit  Kind = "RATE_LIMIT"
	KindServer     Kind = "SERVER"
	KindUnknown    Kind = "UNKNOWN"
)

// ClassifiedError is created once per failure and never mutated.
type ClassifiedError struct {
	Kind        Kind
	Message     string
	UserMessage string
	Retryable   bool
	HTTPStatus  int
	RetryAfter  time.Duration
	Context     map[string]interface{}
	Err         error
}

func (e *ClassifiedError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.HTTPStatus != 0 {
		msg += fmt.Sprintf(" (http %d)", e.HTTPStatus)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a ClassifiedError marked retryable.
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// AsClassified extracts a ClassifiedError from err, classifying on the fly
// if err is not one already.
func AsClassified(err error) *ClassifiedError {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	return Classify(err, nil)
}

// HTTPError is a non-2xx response from the remote endpoint, kept raw so
// Classify owns the status interpretation.
type HTTPError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Body)
}

// RemoteFailure is an ok:false payload from the remote endpoint. The
// spreadsheet backend reports validation problems this way rather than
// through HTTP status codes.
type RemoteFailure struct {
	Message string
}

func (e *RemoteFailure) Error() string {
	return fmt.Sprintf("remote rejected operation: %s", e.Message)
}
