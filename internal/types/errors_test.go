package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationInvalidEmail, http.StatusBadRequest},
		{ErrCodeValidationInvalidCron, http.StatusBadRequest},
		{ErrCodeNotFoundReport, http.StatusNotFound},
		{ErrCodeNotFoundTemplate, http.StatusNotFound},
		{ErrCodeUpstreamStorage, http.StatusBadGateway},
		{ErrCodeUpstreamMail, http.StatusBadGateway},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrorCode("something_unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.code, tt.want, got)
		}
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewAppError(ErrCodeInternalDB, "query failed", inner)

	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to find the wrapped error")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("expected errors.As to find AppError through wrapping")
	}
	if appErr.Code != ErrCodeInternalDB {
		t.Errorf("expected %s, got %s", ErrCodeInternalDB, appErr.Code)
	}
}

func TestSecretString_Redaction(t *testing.T) {
	s := SecretString("hunter2")
	if fmt.Sprintf("%s", s) != "***REDACTED***" {
		t.Error("expected fmt to redact the secret")
	}
	b, err := s.MarshalJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != `"***REDACTED***"` {
		t.Errorf("expected redacted JSON, got %s", b)
	}
	if s.Unmask() != "hunter2" {
		t.Error("Unmask should return the raw value")
	}
}
