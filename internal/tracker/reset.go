package tracker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/usage"
)

// RetentionScheduler deletes stored days older than the retention period
// once a day.
type RetentionScheduler struct {
	store         storage.UsageStore
	hour, minute  int
	retentionDays int
	clock         usage.Clock
	location      *time.Location
	logger        zerolog.Logger
	stopChan      chan struct{}
}

// NewRetentionScheduler creates a scheduler that runs daily at runTime
// (HH:MM) in loc. A retentionDays of zero keeps everything.
func NewRetentionScheduler(store storage.UsageStore, runTime string, retentionDays int, loc *time.Location, logger zerolog.Logger) (*RetentionScheduler, error) {
	hour, minute, err := config.ParseClock(runTime)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}

	return &RetentionScheduler{
		store:         store,
		hour:          hour,
		minute:        minute,
		retentionDays: retentionDays,
		clock:         usage.RealClock{},
		location:      loc,
		logger:        logger.With().Str("component", "retention-scheduler").Logger(),
		stopChan:      make(chan struct{}),
	}, nil
}

// Start begins the retention scheduler
func (rs *RetentionScheduler) Start() {
	go rs.run()
	rs.logger.Info().
		Str("run_time", time.Date(0, 1, 1, rs.hour, rs.minute, 0, 0, time.UTC).Format("15:04")).
		Int("retention_days", rs.retentionDays).
		Msg("Retention scheduler started")
}

// Stop stops the retention scheduler
func (rs *RetentionScheduler) Stop() {
	close(rs.stopChan)
	rs.logger.Info().Msg("Retention scheduler stopped")
}

// run is the main scheduler loop
func (rs *RetentionScheduler) run() {
	for {
		nextRun := rs.nextRun(rs.clock.Now())
		waitDuration := time.Until(nextRun)

		rs.logger.Info().
			Time("next_run", nextRun).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next retention run")

		select {
		case <-time.After(waitDuration):
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			_, _ = rs.RunOnce(ctx)
			cancel()
		case <-rs.stopChan:
			return
		}
	}
}

// nextRun calculates the next run time after now
func (rs *RetentionScheduler) nextRun(now time.Time) time.Time {
	now = now.In(rs.location)

	todayRun := time.Date(
		now.Year(), now.Month(), now.Day(),
		rs.hour, rs.minute, 0, 0,
		rs.location,
	)

	// If we've already passed today's run time, schedule for tomorrow
	if !now.Before(todayRun) {
		return todayRun.AddDate(0, 0, 1)
	}

	return todayRun
}

// RunOnce deletes days older than the retention period and returns how many
// were removed.
func (rs *RetentionScheduler) RunOnce(ctx context.Context) (int, error) {
	if rs.retentionDays <= 0 {
		return 0, nil
	}

	cutoffDate := storage.CutoffDate(rs.clock.Now().In(rs.location), rs.retentionDays)
	deleted, err := rs.store.DeleteDaysBefore(ctx, cutoffDate)
	if err != nil {
		rs.logger.Error().Err(err).Str("cutoff_date", cutoffDate).Msg("Failed to delete old usage")
		return 0, err
	}

	metrics.RetentionDeletedDays.Add(float64(deleted))
	rs.logger.Info().
		Int("days_deleted", deleted).
		Str("cutoff_date", cutoffDate).
		Msg("Old usage cleaned up")

	return deleted, nil
}
