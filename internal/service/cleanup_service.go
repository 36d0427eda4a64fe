package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tallybook/api/internal/models"
)

// ErrCleanupRunning is returned when a cleanup cycle is requested while a
// previous one is still in flight. Overlapping runs are skipped, not queued.
var ErrCleanupRunning = errors.New("cleanup already running")

type Pinger interface {
	Ping(ctx context.Context) error
}

// CleanupReport summarizes one janitor cycle.
type CleanupReport struct {
	ExpiredDeleted int64         `json:"expired_deleted"`
	RevokedDeleted int64         `json:"revoked_deleted"`
	Duration       time.Duration `json:"duration"`
	DryRun         bool          `json:"dry_run"`
}

type HealthReport struct {
	Healthy   bool              `json:"healthy"`
	Checks    map[string]string `json:"checks"`
	Stats     models.TokenStats `json:"stats"`
	Timestamp time.Time         `json:"timestamp"`
}

// CleanupService purges expired tokens and revoked tokens past the retention
// window. At most one run executes at a time; a failed cycle is logged and
// retried on the next scheduled tick.
type CleanupService struct {
	tokens    TokenStore
	db        Pinger
	cache     *redis.Client
	retention time.Duration
	batchSize int
	log       zerolog.Logger

	mu sync.Mutex
}

func NewCleanupService(
	tokens TokenStore,
	db Pinger,
	cache *redis.Client,
	retention time.Duration,
	batchSize int,
	log zerolog.Logger,
) *CleanupService {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &CleanupService{
		tokens:    tokens,
		db:        db,
		cache:     cache,
		retention: retention,
		batchSize: batchSize,
		log:       log,
	}
}

// Run executes one cleanup cycle. Deletes are chunked by the configured
// batch size so a single run never holds storage resources indefinitely.
// Partial failures are collected; whatever was deleted stays deleted.
func (s *CleanupService) Run(ctx context.Context) (CleanupReport, error) {
	if !s.mu.TryLock() {
		return CleanupReport{}, ErrCleanupRunning
	}
	defer s.mu.Unlock()

	start := time.Now()
	now := start.UTC()
	cutoff := now.Add(-s.retention)

	var report CleanupReport
	var errs []error

	expired, err := s.deleteAll(ctx, func(ctx context.Context) (int64, error) {
		return s.tokens.DeleteExpired(ctx, now, s.batchSize)
	})
	report.ExpiredDeleted = expired
	if err != nil {
		errs = append(errs, err)
		s.log.Error().Err(err).Msg("cleanup: delete expired tokens failed")
	}

	revoked, err := s.deleteAll(ctx, func(ctx context.Context) (int64, error) {
		return s.tokens.DeleteRevokedBefore(ctx, cutoff, s.batchSize)
	})
	report.RevokedDeleted = revoked
	if err != nil {
		errs = append(errs, err)
		s.log.Error().Err(err).Msg("cleanup: delete revoked tokens failed")
	}

	report.Duration = time.Since(start)

	s.log.Info().
		Int64("expired_deleted", report.ExpiredDeleted).
		Int64("revoked_deleted", report.RevokedDeleted).
		Dur("duration", report.Duration).
		Msg("token cleanup finished")

	return report, errors.Join(errs...)
}

// DryRun reports what a cleanup cycle would delete without mutating state.
func (s *CleanupService) DryRun(ctx context.Context) (CleanupReport, error) {
	start := time.Now()
	now := start.UTC()

	expired, err := s.tokens.CountExpired(ctx, now)
	if err != nil {
		return CleanupReport{}, err
	}
	revoked, err := s.tokens.CountRevokedBefore(ctx, now.Add(-s.retention))
	if err != nil {
		return CleanupReport{}, err
	}

	return CleanupReport{
		ExpiredDeleted: expired,
		RevokedDeleted: revoked,
		Duration:       time.Since(start),
		DryRun:         true,
	}, nil
}

// Health verifies storage reachability and reports live statistics. It
// never mutates token state.
func (s *CleanupService) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Healthy:   true,
		Checks:    map[string]string{},
		Timestamp: time.Now().UTC(),
	}

	if err := s.db.Ping(ctx); err != nil {
		report.Healthy = false
		report.Checks["database"] = err.Error()
	} else {
		report.Checks["database"] = "ok"
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx).Err(); err != nil {
			report.Healthy = false
			report.Checks["cache"] = err.Error()
		} else {
			report.Checks["cache"] = "ok"
		}
	}

	stats, err := s.tokens.Stats(ctx)
	if err != nil {
		report.Healthy = false
		report.Checks["stats"] = err.Error()
	} else {
		report.Stats = stats
	}

	return report
}

// Stats exposes the aggregate token counters.
func (s *CleanupService) Stats(ctx context.Context) (models.TokenStats, error) {
	return s.tokens.Stats(ctx)
}

func (s *CleanupService) deleteAll(ctx context.Context, deleteBatch func(context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := deleteBatch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(s.batchSize) {
			return total, nil
		}
	}
}
