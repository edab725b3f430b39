package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewConfigError(t *testing.T) {
	e := NewConfigError("missing %s", "site root")
	if e.Message != "missing site root" {
		t.Errorf("Message = %q, want %q", e.Message, "missing site root")
	}
	if e.Error() != "missing site root" {
		t.Errorf("Error() = %q, want %q", e.Error(), "missing site root")
	}
}

func TestWithHint(t *testing.T) {
	e := NewConfigError("site folder not found").WithHint("run an export first")
	if e.Hint != "run an export first" {
		t.Errorf("Hint = %q, want %q", e.Hint, "run an export first")
	}
}

func TestWrap(t *testing.T) {
	inner := fmt.Errorf("permission denied")
	e := NewConfigError("cannot read site root").Wrap(inner)

	want := "cannot read site root: permission denied"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}

	if !errors.Is(e, inner) {
		t.Error("expected wrapped error to match with errors.Is")
	}
}

func TestAsConfigError(t *testing.T) {
	e := NewConfigError("bad layout")
	wrapped := fmt.Errorf("startup: %w", e)

	got, ok := AsConfigError(wrapped)
	if !ok {
		t.Fatal("expected to find ConfigError in chain")
	}
	if got.Message != "bad layout" {
		t.Errorf("Message = %q, want %q", got.Message, "bad layout")
	}

	if _, ok := AsConfigError(fmt.Errorf("plain")); ok {
		t.Error("expected no ConfigError in plain error")
	}
}
