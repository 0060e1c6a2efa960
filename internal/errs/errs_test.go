package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestCoreErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	ce := New(KindNoWorkers, base)
	if !errors.Is(ce, base) {
		t.Errorf("expected errors.Is to find wrapped base error")
	}
}

func TestKindOfFindsWrappedCoreError(t *testing.T) {
	ce := New(KindAgentTimeout, errors.New("idle too long"))
	wrapped := fmt.Errorf("dispatch failed: %w", ce)

	kind, ok := KindOf(wrapped)
	if !ok {
		t.Fatal("expected KindOf to find wrapped CoreError")
	}
	if kind != KindAgentTimeout {
		t.Errorf("KindOf() = %q, want %q", kind, KindAgentTimeout)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("expected KindOf to report false for a plain error")
	}
}
