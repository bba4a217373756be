package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/idassure/internal/logging"
	"github.com/example/idassure/internal/retry"
)

var (
	// ErrNotFound is returned when a profile or attempt does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAttemptNotDecided guards the append-only attempt log against undecided rows.
	ErrAttemptNotDecided = errors.New("attempt must be decided before it is recorded")
)

// VerificationRepository persists reference profiles and the append-only
// verification attempt log.
type VerificationRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	return &VerificationRepository{
		db:             db,
		logger:         logger.Named("verification_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ReferenceProfile{}, &VerificationAttempt{})
}

// UpsertProfile stores a profile, overwriting any previous enrollment of the
// same identity.
func (r *VerificationRepository) UpsertProfile(ctx context.Context, profile *ReferenceProfile) error {
	return r.executeWithRetry(ctx, "repository.upsert_profile", profile.IdentityKey, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity_key"}},
			UpdateAll: true,
		}).Create(profile).Error
	})
}

// FindProfile loads the profile enrolled under identityKey.
func (r *VerificationRepository) FindProfile(ctx context.Context, identityKey string) (*ReferenceProfile, error) {
	var profile ReferenceProfile
	err := r.executeWithRetry(ctx, "repository.find_profile", identityKey, func() error {
		return r.db.WithContext(ctx).First(&profile, "identity_key = ?", identityKey).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("profile %q: %w", identityKey, ErrNotFound)
		}
		return nil, err
	}
	return &profile, nil
}

// SaveAttempt appends a decided attempt. Attempts are never updated.
func (r *VerificationRepository) SaveAttempt(ctx context.Context, attempt *VerificationAttempt) error {
	if attempt.Status != AttemptStatusDecided {
		return logging.NewOperationError("repository.save_attempt", attempt.AttemptID, ErrAttemptNotDecided)
	}
	return r.executeWithRetry(ctx, "repository.save_attempt", attempt.AttemptID, insertOnce(func() error {
		return r.db.WithContext(ctx).Create(attempt).Error
	}))
}

// insertOnce wraps an insert for retrying. A unique violation on a retry means
// an earlier try committed before its error surfaced, so it counts as success.
func insertOnce(create func() error) func() error {
	tries := 0
	return func() error {
		tries++
		err := create()
		if err != nil && tries > 1 && isUniqueViolation(err) {
			return nil
		}
		return err
	}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// FindAttempt retrieves an attempt matching the id and owner.
func (r *VerificationRepository) FindAttempt(ctx context.Context, attemptID, identityKey string) (*VerificationAttempt, error) {
	var attempt VerificationAttempt
	err := r.executeWithRetry(ctx, "repository.find_attempt", attemptID, func() error {
		return r.db.WithContext(ctx).First(&attempt, "attempt_id = ? AND identity_key = ?", attemptID, identityKey).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("attempt %q: %w", attemptID, ErrNotFound)
		}
		return nil, err
	}
	return &attempt, nil
}

// AggregateMetrics summarizes the attempt log.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&VerificationAttempt{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count,
				COALESCE(AVG(score), 0) AS average_score,
				COALESCE(AVG(latency_ms), 0) AS average_processing_latency_ms`).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *VerificationRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	err := retry.Do(ctx, retry.Policy{
		Attempts:       r.retryAttempts,
		InitialBackoff: r.initialBackoff,
		MaxBackoff:     r.maxBackoff,
	}, fn, func(attempt int, err error) {
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt))
	})
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			opLogger.Error("database operation failed", zap.Error(err))
		}
		return logging.NewOperationError(operation, requestID, err)
	}
	return nil
}
