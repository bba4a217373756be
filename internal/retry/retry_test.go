package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type transientErr struct{}

func (transientErr) Error() string   { return "transient" }
func (transientErr) Timeout() bool   { return true }
func (transientErr) Temporary() bool { return true }

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	retried := 0
	err := Do(context.Background(), Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
		func() error {
			calls++
			if calls < 3 {
				return fmt.Errorf("wrapped: %w", transientErr{})
			}
			return nil
		},
		func(int, error) { retried++ },
	)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 || retried != 2 {
		t.Fatalf("expected 3 calls and 2 retries, got %d and %d", calls, retried)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), Policy{Attempts: 5, InitialBackoff: time.Millisecond}, func() error {
		calls++
		return boom
	}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestDoIsBounded(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 2, InitialBackoff: time.Millisecond}, func() error {
		calls++
		return transientErr{}
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoZeroAttemptsCallsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Policy{}, func() error {
		calls++
		return transientErr{}
	}, nil)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 3, InitialBackoff: time.Hour}, func() error {
		calls++
		cancel()
		return transientErr{}
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Fatal("nil is not transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("deadline exceeded is transient")
	}
	if IsTransient(errors.New("nope")) {
		t.Fatal("plain errors are not transient")
	}
}
