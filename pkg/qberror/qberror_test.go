package qberror

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewUsesStatusText(t *testing.T) {
	err := New(408, "")
	if err.Message != "Request Timeout" {
		t.Fatalf("expected Request Timeout, got %v", err.Message)
	}
	if err.Detail != nil {
		t.Fatalf("expected no detail, got %v", err.Detail)
	}
	if err.Status != "error" {
		t.Fatalf("expected status error, got %q", err.Status)
	}
}

func TestIsSessionExpired(t *testing.T) {
	if !IsSessionExpired(New(401, "")) {
		t.Fatalf("expected 401 to be a session expiry")
	}

	wrapped := fmt.Errorf("data: %w", &Error{Code: 0, Status: "401 Unauthorized"})
	if !IsSessionExpired(wrapped) {
		t.Fatalf("expected wrapped 401 status to be a session expiry")
	}

	if IsSessionExpired(New(404, "")) {
		t.Fatalf("did not expect 404 to be a session expiry")
	}
	if IsSessionExpired(errors.New("Unauthorized")) {
		t.Fatalf("did not expect a plain error to be a session expiry")
	}
}

func TestErrorsIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("privacy: %w", New(408, "no answer"))
	if !errors.Is(err, New(408, "")) {
		t.Fatalf("expected errors.Is to match on code")
	}
}
