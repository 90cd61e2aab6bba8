package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeNotFound, "outcome abc not found")

	if err == nil {
		t.Fatal("New should return non-nil error")
	}
	if err.Code != ErrCodeNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeNotFound)
	}
	if err.Message != "outcome abc not found" {
		t.Errorf("Message = %v, want 'outcome abc not found'", err.Message)
	}
	if err.Underlying != nil {
		t.Error("Underlying should be nil for New error")
	}
	if err.Retryable {
		t.Error("Retryable should default to false")
	}
}

func TestWrap(t *testing.T) {
	underlying := errors.New("disk full")
	err := Wrap(underlying, ErrCodePersistence, "failed to persist escalation")

	if err == nil {
		t.Fatal("Wrap should return non-nil error")
	}
	if err.Underlying != underlying {
		t.Error("Underlying should be preserved")
	}
	if err.Code != ErrCodePersistence {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodePersistence)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Error("Error string should include underlying error")
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should see through the wrapper")
	}
}

func TestWrap_Nil(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "test"); err != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound("escalation", "esc-123")

	if !IsNotFound(err) {
		t.Error("IsNotFound should be true")
	}
	if got := err.Context["id"]; got != "esc-123" {
		t.Errorf("Context[id] = %v, want esc-123", got)
	}
	if !strings.Contains(err.Error(), "escalation not found") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestConflict_Retryable(t *testing.T) {
	err := Conflict("task already claimed")

	if !IsConflict(err) {
		t.Error("IsConflict should be true")
	}
	if !IsRetryable(err) {
		t.Error("conflicts should be retryable")
	}
}

func TestIsCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching code", Validation("bad threshold"), ErrCodeValidation, true},
		{"different code", Validation("bad threshold"), ErrCodeNotFound, false},
		{"plain error", errors.New("plain"), ErrCodeValidation, false},
		{"nil error", nil, ErrCodeValidation, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsCode(tc.err, tc.code); got != tc.want {
				t.Errorf("IsCode = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	if GetCode(nil) != "" {
		t.Error("nil error should yield empty code")
	}
	if GetCode(errors.New("plain")) != ErrCodeInternal {
		t.Error("plain errors map to INTERNAL")
	}
	if GetCode(Validation("x")) != ErrCodeValidation {
		t.Error("structured error should report its own code")
	}
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeExternalCapability, "scorer timed out").
		WithContext("escalation_id", "esc-1").
		WithContext("capability", "confidence")

	msg := err.Error()
	if !strings.Contains(msg, "escalation_id") || !strings.Contains(msg, "capability") {
		t.Errorf("context keys missing from message: %s", msg)
	}
}
