package usecase

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/idassure/internal/logging"
	"github.com/example/idassure/internal/retry"
)

// Cache abstracts the Redis operations used by the use case to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis. A miss is reported as redis.Nil.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, attemptID, operation string, fn func() error) error {
	opLogger := logging.WithOperation(uc.logger, operation, attemptID)
	retried := false
	err := retry.Do(ctx, uc.cacheRetry, fn, func(attempt int, err error) {
		retried = true
		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt))
	})
	if err != nil {
		return logging.NewOperationError(operation, attemptID, err)
	}
	if retried {
		opLogger.Info("redis operation succeeded after retry")
	}
	return nil
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, attemptID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, attemptID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
