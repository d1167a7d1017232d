package apierr

import (
	"errors"
	"testing"
)

func TestErrorMessageWithoutCause(t *testing.T) {
	e := New(StatusValidation, "bad input")
	if got := e.Error(); got != "bad input" {
		t.Fatalf("Error() = %q, want %q", got, "bad input")
	}
}

func TestErrorMessageWithCause(t *testing.T) {
	cause := errors.New("disk full")
	e := Wrap(StatusInternal, "write failed", cause)
	if got := e.Error(); got != "write failed: disk full" {
		t.Fatalf("Error() = %q, want %q", got, "write failed: disk full")
	}
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(StatusOperation, "op failed", cause)
	if !errors.Is(e, cause) {
		t.Fatal("errors.Is should unwrap to cause")
	}
}

func TestUnwrapNilCause(t *testing.T) {
	e := New(StatusNotFound, "missing")
	if e.Unwrap() != nil {
		t.Fatal("Unwrap() should be nil when no cause was set")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		status Status
		want   int
	}{
		{StatusOK, 200},
		{StatusValidation, 200},
		{StatusNotFound, 200},
		{StatusConflict, 200},
		{StatusInternal, 200},
		{StatusUnauthorized, 401},
		{StatusPanic, 500},
	}
	for _, tc := range cases {
		if got := tc.status.HTTPStatus(); got != tc.want {
			t.Errorf("Status(%d).HTTPStatus() = %d, want %d", tc.status, got, tc.want)
		}
	}
}

func TestConstructorHelpers(t *testing.T) {
	if Validation("x").Status != StatusValidation {
		t.Error("Validation should set StatusValidation")
	}
	if Forbidden("x").Status != StatusForbidden {
		t.Error("Forbidden should set StatusForbidden")
	}
	if NotFound("x").Status != StatusNotFound {
		t.Error("NotFound should set StatusNotFound")
	}
	if Conflict("x").Status != StatusConflict {
		t.Error("Conflict should set StatusConflict")
	}
	if TooLarge("x").Status != StatusTooLarge {
		t.Error("TooLarge should set StatusTooLarge")
	}
	if InvalidRequest("x").Status != StatusInvalidRequest {
		t.Error("InvalidRequest should set StatusInvalidRequest")
	}
	if got := Internal(errors.New("e")).Status; got != StatusInternal {
		t.Error("Internal should set StatusInternal")
	}
}
