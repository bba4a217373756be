package logging

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewOperationErrorNilPassthrough(t *testing.T) {
	if err := NewOperationError("noop", "req", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorFormatting(t *testing.T) {
	base := errors.New("boom")

	withID := NewOperationError("usecase.verify", "req-1", base)
	if got := withID.Error(); got != "usecase.verify (request_id=req-1): boom" {
		t.Fatalf("unexpected message: %s", got)
	}
	if !errors.Is(withID, base) {
		t.Fatal("expected wrapped error to match base")
	}

	withoutID := NewOperationError("storage.get", "", base)
	if got := withoutID.Error(); got != "storage.get: boom" {
		t.Fatalf("unexpected message: %s", got)
	}
}

func TestOperationOfReturnsInnermost(t *testing.T) {
	inner := NewOperationError("similarity.compare_faces", "req", errors.New("timeout"))
	outer := NewOperationError("usecase.biometric_path", "req", fmt.Errorf("gather: %w", inner))

	if got := OperationOf(outer); got != "similarity.compare_faces" {
		t.Fatalf("expected innermost operation, got %q", got)
	}
	if got := OperationOf(errors.New("plain")); got != "" {
		t.Fatalf("expected empty operation, got %q", got)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("chatty", "json"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	logger, err := NewLogger("debug", "console")
	if err != nil {
		t.Fatalf("expected logger, got %v", err)
	}
	_ = logger.Sync()
}
