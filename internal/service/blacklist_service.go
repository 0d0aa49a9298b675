package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/authguard-api/internal/models"
	appErrors "github.com/noah-isme/authguard-api/pkg/errors"
	"github.com/noah-isme/authguard-api/pkg/hashing"
)

type tokenDecoder interface {
	Decode(token string) (*models.TokenMetadata, error)
}

type blacklistStore interface {
	Add(ctx context.Context, digest string, expiresAt, now time.Time) error
	Exists(ctx context.Context, digest string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type blacklistMirror interface {
	SetBlacklisted(ctx context.Context, digest string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, digest string) (bool, error)
}

// BlacklistService revokes access tokens before their natural expiry. Rows
// live only until the token would have expired anyway.
type BlacklistService struct {
	decoder tokenDecoder
	store   blacklistStore
	mirror  blacklistMirror
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewBlacklistService constructs a BlacklistService. mirror may be nil.
func NewBlacklistService(decoder tokenDecoder, store blacklistStore, mirror blacklistMirror, metrics *MetricsService, logger *zap.Logger) *BlacklistService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlacklistService{decoder: decoder, store: store, mirror: mirror, metrics: metrics, logger: logger, now: time.Now}
}

// Blacklist revokes token until its exp. Tokens that already expired need no
// entry.
func (s *BlacklistService) Blacklist(ctx context.Context, token string) error {
	meta, err := s.decoder.Decode(token)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "token is malformed")
	}

	now := s.now().UTC()
	if !meta.ExpiresAt.After(now) {
		return nil
	}

	digest := hashing.TokenDigest(token)
	if err := s.store.Add(ctx, digest, meta.ExpiresAt, now); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to blacklist token")
	}

	if s.mirror != nil {
		if err := s.mirror.SetBlacklisted(ctx, digest, meta.ExpiresAt.Sub(now)); err != nil {
			s.logger.Warn("failed to mirror blacklist entry", zap.Error(err))
		}
	}
	return nil
}

// IsBlacklisted reports whether token was revoked. The mirror can only
// confirm a hit; PostgreSQL decides a miss.
func (s *BlacklistService) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	digest := hashing.TokenDigest(token)

	if s.mirror != nil {
		hit, err := s.mirror.IsBlacklisted(ctx, digest)
		if err != nil {
			s.logger.Warn("blacklist mirror unavailable", zap.Error(err))
		} else if hit {
			s.metrics.RecordBlacklistCheck("hit")
			return true, nil
		}
	}

	exists, err := s.store.Exists(ctx, digest, s.now().UTC())
	if err != nil {
		s.metrics.RecordBlacklistCheck("error")
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check token blacklist")
	}
	if exists {
		s.metrics.RecordBlacklistCheck("hit")
	} else {
		s.metrics.RecordBlacklistCheck("miss")
	}
	return exists, nil
}

// PruneExpired deletes entries whose token has expired.
func (s *BlacklistService) PruneExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to prune token blacklist")
	}
	return n, nil
}
