package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"tallybook/api/internal/service"
)

// Scheduler drives the token janitor on its cron schedule. Ticks that land
// while a run is still in flight are skipped and logged, never stacked.
type Scheduler struct {
	cron     *cron.Cron
	cleanup  *service.CleanupService
	schedule string
	log      zerolog.Logger
}

func NewScheduler(cleanup *service.CleanupService, schedule string, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:     c,
		cleanup:  cleanup,
		schedule: schedule,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runCleanup); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("cleanup scheduler started")
	return nil
}

// Stop halts the schedule and waits up to five seconds for a running job.
func (s *Scheduler) Stop() {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("cleanup scheduler stop timed out")
	}
}

func (s *Scheduler) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if _, err := s.cleanup.Run(ctx); err != nil {
		if errors.Is(err, service.ErrCleanupRunning) {
			s.log.Warn().Msg("cleanup tick skipped: previous run still in flight")
			return
		}
		// Logged and dropped: the next tick retries.
		s.log.Error().Err(err).Msg("scheduled cleanup failed")
	}
}
