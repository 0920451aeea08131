// Package scheduler runs periodic housekeeping on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/common"
	"github.com/ternarybob/urbix/internal/interfaces"
)

// Service prunes finished login attempts older than the retention window
type Service struct {
	attempts  interfaces.AttemptStorage
	schedule  string
	retention time.Duration
	cron      *cron.Cron
	logger    arbor.ILogger

	mu      sync.Mutex // Prevents overlapping runs
	running bool
	now     func() time.Time
}

// NewService creates the scheduler. Schedules use the six-field cron format
// with a leading seconds field.
func NewService(attempts interfaces.AttemptStorage, config *common.MaintenanceConfig, logger arbor.ILogger) *Service {
	return &Service{
		attempts:  attempts,
		schedule:  config.Schedule,
		retention: common.ParseDurationOr(config.AttemptRetention, 7*24*time.Hour),
		cron:      cron.New(cron.WithSeconds()),
		logger:    logger,
		now:       time.Now,
	}
}

// Start registers the prune job and starts the cron loop
func (s *Service) Start() error {
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, s.runPrune); err != nil {
		return fmt.Errorf("failed to add prune job: %w", err)
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Dur("retention", s.retention).
		Msg("Scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a running prune to finish
func (s *Service) Stop() error {
	if !s.running {
		return nil
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

func (s *Service) runPrune() {
	defer common.RecoverPanic(s.logger, "attempt-prune")
	if _, err := s.PruneAttempts(context.Background()); err != nil {
		s.logger.Warn().Err(err).Msg("Attempt prune failed")
	}
}

// PruneAttempts deletes terminal attempts that finished before now minus the
// retention window and returns how many were removed
func (s *Service) PruneAttempts(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.retention)
	removed, err := s.attempts.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune attempts: %w", err)
	}

	if removed > 0 {
		s.logger.Info().
			Int("removed", removed).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("Pruned finished login attempts")
	}
	return removed, nil
}
