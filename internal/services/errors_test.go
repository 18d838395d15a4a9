package services_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"digipub/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "partner", "upload", "put object failed", base)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"partner", "upload", "put object failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", services.Wrap(services.ErrTransient, "partner", "upload", "", errors.New("reset")), true},
		{"deadline", fmt.Errorf("put: %w", context.DeadlineExceeded), true},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"canceled", context.Canceled, false},
		{"validation", services.Wrap(services.ErrValidation, "partner", "upload", "bad key", nil), false},
		{"checksum beats transient", services.Wrap(services.ErrChecksum, "partner", "upload", "", services.ErrTransient), false},
		{"conflict", &services.ConflictError{ExistingID: "x"}, false},
		{"plain", errors.New("mystery"), false},
	}
	for _, tc := range cases {
		if got := services.IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: IsRetryable=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestConflictErrorExposesExistingID(t *testing.T) {
	err := fmt.Errorf("upload: %w", &services.ConflictError{ExistingID: "010002350302.zip"})
	if !errors.Is(err, services.ErrConflict) {
		t.Fatal("expected ErrConflict")
	}
	var conflict *services.ConflictError
	if !errors.As(err, &conflict) || conflict.ExistingID != "010002350302.zip" {
		t.Fatalf("unexpected conflict: %#v", conflict)
	}
}
