package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", NewInvalidInputError("bad"), http.StatusUnprocessableEntity},
		{"not found", NewNotFoundError("missing"), http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("lookup: %w", NewNotFoundError("missing")), http.StatusNotFound},
		{"forbidden", NewForbiddenError("no"), http.StatusForbidden},
		{"unauthorized", NewUnauthorizedError("who"), http.StatusUnauthorized},
		{"unavailable", NewServiceUnavailableError("down", nil), http.StatusServiceUnavailable},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPublicMessage_HidesPlainErrors(t *testing.T) {
	if got := PublicMessage(errors.New("dsn=secret")); got != "internal server error" {
		t.Errorf("PublicMessage = %q", got)
	}
	if got := PublicMessage(NewNotFoundError("conversation not found")); got != "conversation not found" {
		t.Errorf("PublicMessage = %q", got)
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewInternalErrorWithCause("save message", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to reach the cause")
	}
	if err.Error() != "[INTERNAL_ERROR] save message: disk full" {
		t.Errorf("Error() = %q", err.Error())
	}
	if IsNotFound(err) || IsInvalidInput(err) {
		t.Error("internal error classified as another code")
	}
}
