package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/idassure/internal/logging"
	"github.com/example/idassure/internal/scoring"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := &VerificationRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "repository.find_profile", "alice", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := &VerificationRepository{
		logger:         zap.NewNop(),
		retryAttempts:  2,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "repository.find_profile", "bob", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "repository.find_profile" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.RequestID != "bob" {
		t.Fatalf("unexpected request id: %s", opErr.RequestID)
	}
}

func TestSaveAttemptRejectsUndecided(t *testing.T) {
	repo := &VerificationRepository{logger: zap.NewNop()}

	err := repo.SaveAttempt(context.Background(), &VerificationAttempt{AttemptID: "a-1", Status: AttemptStatusPending})
	if !errors.Is(err, ErrAttemptNotDecided) {
		t.Fatalf("expected ErrAttemptNotDecided, got %v", err)
	}
}

func TestSaveAttemptRetryTreatsDuplicateAsCommitted(t *testing.T) {
	repo := &VerificationRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	for _, dup := range []error{&pgconn.PgError{Code: "23505"}, gorm.ErrDuplicatedKey} {
		inserts := 0
		err := repo.executeWithRetry(context.Background(), "repository.save_attempt", "a-1", insertOnce(func() error {
			inserts++
			if inserts == 1 {
				return transientTestError{}
			}
			return dup
		}))
		if err != nil {
			t.Fatalf("expected committed insert to succeed, got %v", err)
		}
		if inserts != 2 {
			t.Fatalf("expected 2 inserts, got %d", inserts)
		}
	}
}

func TestSaveAttemptFirstDuplicateIsAnError(t *testing.T) {
	repo := &VerificationRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	err := repo.executeWithRetry(context.Background(), "repository.save_attempt", "a-1", insertOnce(func() error {
		return &pgconn.PgError{Code: "23505"}
	}))
	if err == nil {
		t.Fatal("expected duplicate on first insert to fail")
	}
}

func TestAttemptIssuesRoundTrip(t *testing.T) {
	attempt := &VerificationAttempt{}

	issues, err := attempt.DecodeIssues()
	if err != nil || len(issues) != 0 {
		t.Fatalf("expected empty issues, got %v (%v)", issues, err)
	}

	want := []scoring.Issue{{Field: "name", Detail: scoring.DetailNotFound, Penalty: 40}}
	if err := attempt.SetIssues(want); err != nil {
		t.Fatalf("set issues: %v", err)
	}
	got, err := attempt.DecodeIssues()
	if err != nil {
		t.Fatalf("decode issues: %v", err)
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Fatalf("unexpected issues: %+v", got)
	}

	if err := attempt.SetDocumentKeys([]string{"uploads/a.png", "uploads/b.png"}); err != nil {
		t.Fatalf("set document keys: %v", err)
	}
	if attempt.DocumentKeys != `["uploads/a.png","uploads/b.png"]` {
		t.Fatalf("unexpected document keys: %s", attempt.DocumentKeys)
	}
}
