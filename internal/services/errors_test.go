package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tessera/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "embed", "request", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"embed", "request", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "normalize", "read", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected nil marker to default to transient, got %v", err)
	}
}

func TestRetryableClassification(t *testing.T) {
	permanent := services.Wrap(services.ErrPermanent, "normalize", "decode", "malformed payload", nil)
	if services.Retryable(permanent) {
		t.Fatal("permanent errors must not be retryable")
	}

	validation := services.Wrap(services.ErrValidation, "cluster", "prepare", "missing embedding", nil)
	if services.Retryable(validation) {
		t.Fatal("validation errors must not be retryable")
	}

	transient := services.Wrap(services.ErrTransient, "embed", "request", "connection reset", errors.New("io"))
	if !services.Retryable(transient) {
		t.Fatal("transient errors must be retryable")
	}

	timeout := services.Wrap(services.ErrTimeout, "summarize", "request", "deadline", context.DeadlineExceeded)
	if !services.Retryable(timeout) {
		t.Fatal("timeouts must be retryable")
	}
	if !services.IsTimeout(timeout) {
		t.Fatal("expected timeout classification")
	}

	if services.Retryable(nil) {
		t.Fatal("nil errors are not retryable")
	}
}
