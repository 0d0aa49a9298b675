package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type stalePruner interface {
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type attemptPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type auditPruner interface {
	Prune(ctx context.Context) (int64, error)
}

type blacklistPruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// CleanupConfig sets how long expired data is kept.
type CleanupConfig struct {
	SessionGrace     time.Duration
	AttemptRetention time.Duration
}

// CleanupService prunes expired sessions, tokens, attempts, audit entries and
// blacklist rows. It runs outside the request path.
type CleanupService struct {
	sessions  stalePruner
	tokens    stalePruner
	attempts  attemptPruner
	audit     auditPruner
	blacklist blacklistPruner
	metrics   *MetricsService
	logger    *zap.Logger
	config    CleanupConfig
	now       func() time.Time
}

// NewCleanupService constructs a CleanupService.
func NewCleanupService(sessions, tokens stalePruner, attempts attemptPruner, audit auditPruner, blacklist blacklistPruner, metrics *MetricsService, logger *zap.Logger, cfg CleanupConfig) *CleanupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionGrace <= 0 {
		cfg.SessionGrace = 7 * 24 * time.Hour
	}
	if cfg.AttemptRetention <= 0 {
		cfg.AttemptRetention = 30 * 24 * time.Hour
	}
	return &CleanupService{
		sessions:  sessions,
		tokens:    tokens,
		attempts:  attempts,
		audit:     audit,
		blacklist: blacklist,
		metrics:   metrics,
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
}

// RunOnce executes every pruner. A failing pruner does not stop the others;
// their errors are joined.
func (s *CleanupService) RunOnce(ctx context.Context) (map[string]int64, error) {
	now := s.now().UTC()
	sessionCutoff := now.Add(-s.config.SessionGrace)

	steps := []struct {
		target string
		run    func() (int64, error)
	}{
		// tokens first so session deletes never trip the foreign key
		{"refresh_tokens", func() (int64, error) { return s.tokens.DeleteStale(ctx, sessionCutoff) }},
		{"sessions", func() (int64, error) { return s.sessions.DeleteStale(ctx, sessionCutoff) }},
		{"login_attempts", func() (int64, error) { return s.attempts.DeleteOlderThan(ctx, now.Add(-s.config.AttemptRetention)) }},
		{"audit_logs", func() (int64, error) { return s.audit.Prune(ctx) }},
		{"token_blacklist", func() (int64, error) { return s.blacklist.PruneExpired(ctx) }},
	}

	report := make(map[string]int64, len(steps))
	var errs []error
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := step.run()
		if err != nil {
			s.logger.Error("cleanup step failed", zap.String("target", step.target), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", step.target, err))
			continue
		}
		report[step.target] = n
		s.metrics.RecordPruned(step.target, n)
	}

	s.logger.Info("cleanup finished", zap.Any("deleted", report), zap.Int("failures", len(errs)))
	return report, errors.Join(errs...)
}

// Start runs RunOnce every interval until ctx is cancelled.
func (s *CleanupService) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}
