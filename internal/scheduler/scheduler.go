// Package scheduler runs dumps on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/branchd-dev/pgbackup/internal/models"
)

// DefaultInterval is how often the scheduler checks whether a dump is due
const DefaultInterval = time.Minute

// Job performs one dump into dir
type Job func(ctx context.Context, dir string) error

// Scheduler triggers Job whenever the cron schedule comes due. Each run gets
// its own timestamped subdirectory of baseDir.
type Scheduler struct {
	expr     string
	baseDir  string
	job      Job
	logger   zerolog.Logger
	interval time.Duration
	now      func() time.Time

	nextRunAt *time.Time
}

// New validates expr (standard 5-field format) and creates a scheduler
func New(expr, baseDir string, job Job, logger zerolog.Logger) (*Scheduler, error) {
	if _, err := parse(expr); err != nil {
		return nil, err
	}
	return &Scheduler{
		expr:     expr,
		baseDir:  baseDir,
		job:      job,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		interval: DefaultInterval,
		now:      time.Now,
	}, nil
}

// Run checks the schedule every interval until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.nextRunAt = CalculateNextRunTime(s.expr, s.now())
	s.logger.Info().
		Str("schedule", s.expr).
		Time("next_run_at", *s.nextRunAt).
		Msg("Scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.checkAndRun(ctx)
		}
	}
}

func (s *Scheduler) checkAndRun(ctx context.Context) {
	now := s.now()

	if s.nextRunAt != nil && s.nextRunAt.After(now) {
		s.logger.Debug().
			Time("next_run_at", *s.nextRunAt).
			Msg("Dump not due yet")
		return
	}

	dir := filepath.Join(s.baseDir, models.GenerateRunName("dump", now))
	s.logger.Info().Str("directory", dir).Msg("Scheduled dump due")

	if err := s.job(ctx, dir); err != nil {
		s.logger.Error().
			Err(err).
			Str("directory", dir).
			Msg("Scheduled dump failed")
	} else {
		s.logger.Info().Str("directory", dir).Msg("Scheduled dump completed")
	}

	// Computed after the job so a long dump does not trigger back to back runs
	s.nextRunAt = CalculateNextRunTime(s.expr, s.now())
	if s.nextRunAt != nil {
		s.logger.Info().
			Time("next_run_at", *s.nextRunAt).
			Msg("Updated next_run_at")
	}
}

// CalculateNextRunTime calculates the next run time from a cron schedule
func CalculateNextRunTime(cronExpr string, from time.Time) *time.Time {
	schedule, err := parse(cronExpr)
	if err != nil {
		return nil
	}

	next := schedule.Next(from)
	return &next
}

func parse(cronExpr string) (cron.Schedule, error) {
	if cronExpr == "" {
		return nil, fmt.Errorf("cron schedule is required")
	}

	// Standard 5-field format: minute hour day-of-month month day-of-week
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", cronExpr, err)
	}
	return schedule, nil
}
