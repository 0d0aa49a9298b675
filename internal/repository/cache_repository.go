package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const blacklistKeyPrefix = "blacklist:"

// CacheRepository mirrors revoked token digests into Redis so the hot
// authentication path can skip PostgreSQL. A nil client disables the mirror.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

// Enabled reports whether a Redis client is configured.
func (r *CacheRepository) Enabled() bool {
	return r != nil && r.client != nil
}

// SetBlacklisted stores digest until ttl elapses.
func (r *CacheRepository) SetBlacklisted(ctx context.Context, digest string, ttl time.Duration) error {
	if !r.Enabled() || ttl <= 0 {
		return nil
	}

	key := blacklistKeyPrefix + digest
	if err := r.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// IsBlacklisted reports whether digest is mirrored. A miss is not
// authoritative.
func (r *CacheRepository) IsBlacklisted(ctx context.Context, digest string) (bool, error) {
	if !r.Enabled() {
		return false, nil
	}

	key := blacklistKeyPrefix + digest
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Ping checks connectivity for the readiness check.
func (r *CacheRepository) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return nil
	}
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.client.Close()
}
