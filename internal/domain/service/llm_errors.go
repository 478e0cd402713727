package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// UpstreamErrorKind classifies generation failures for logging and metrics.
type UpstreamErrorKind int

const (
	// ErrKindTransient covers network resets, 5xx and rate limits.
	ErrKindTransient UpstreamErrorKind = iota
	// ErrKindAuth covers a missing or rejected API key.
	ErrKindAuth
	// ErrKindBadRequest covers 4xx answers other than auth and rate limits.
	ErrKindBadRequest
	// ErrKindIdleTimeout means the upstream stream stalled.
	ErrKindIdleTimeout
	// ErrKindCircuitOpen means the call was rejected without reaching upstream.
	ErrKindCircuitOpen
	// ErrKindCancelled means the caller went away.
	ErrKindCancelled
)

// String returns a human-readable label for the error kind.
func (k UpstreamErrorKind) String() string {
	switch k {
	case ErrKindTransient:
		return "transient"
	case ErrKindAuth:
		return "auth"
	case ErrKindBadRequest:
		return "bad_request"
	case ErrKindIdleTimeout:
		return "idle_timeout"
	case ErrKindCircuitOpen:
		return "circuit_open"
	case ErrKindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// UserErrorPrefix precedes the upstream detail in the text shown to users
// when generation fails.
const UserErrorPrefix = "エラーが発生しました: "

// UpstreamGenerationError is a failure of the generative model call, either
// before the first chunk or mid-stream.
type UpstreamGenerationError struct {
	Kind       UpstreamErrorKind
	Message    string
	StatusCode int
	Model      string
	Cause      error
}

// Error implements the error interface.
func (e *UpstreamGenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *UpstreamGenerationError) Unwrap() error {
	return e.Cause
}

// UserMessage is the localized text relayed to the client in place of the
// rest of the answer.
func (e *UpstreamGenerationError) UserMessage() string {
	return UserErrorPrefix + e.Message
}

// NewUpstreamError classifies err into an UpstreamGenerationError.
// statusCode is the upstream HTTP status, or 0 when no response arrived.
func NewUpstreamError(model string, statusCode int, message string, cause error) *UpstreamGenerationError {
	var existing *UpstreamGenerationError
	if errors.As(cause, &existing) {
		return existing
	}
	return &UpstreamGenerationError{
		Kind:       classify(statusCode, cause),
		Message:    message,
		StatusCode: statusCode,
		Model:      model,
		Cause:      cause,
	}
}

func classify(statusCode int, cause error) UpstreamErrorKind {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return ErrKindCancelled
	}
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrKindAuth
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return ErrKindTransient
	case statusCode >= 400:
		return ErrKindBadRequest
	}
	return ErrKindTransient
}

// AsUpstreamError extracts an UpstreamGenerationError from err's chain.
func AsUpstreamError(err error) (*UpstreamGenerationError, bool) {
	var ue *UpstreamGenerationError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
