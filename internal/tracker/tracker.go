// Package tracker periodically collects usage reports into storage and
// enforces retention.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/report"
	"github.com/goodtune/screentime/internal/storage"
)

// DefaultInterval is the collection period when none is configured.
const DefaultInterval = time.Minute

// collectTimeout bounds a single collection run.
const collectTimeout = 30 * time.Second

// ReportBuilder produces the report for a day.
type ReportBuilder interface {
	Build(ctx context.Context, day time.Time) (*report.Report, error)
	Now() time.Time
	Location() *time.Location
}

// Config holds tracker configuration
type Config struct {
	Interval time.Duration
}

// Tracker rebuilds today's report on an interval and writes it to storage.
// When the date rolls over, the previous day is collected once more so its
// final hours are persisted.
type Tracker struct {
	builder  ReportBuilder
	store    storage.UsageStore
	interval time.Duration
	logger   zerolog.Logger

	trigger  chan struct{}
	stopChan chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	lastDay  time.Time
	lastDate string
}

// NewTracker creates a new usage tracker
func NewTracker(builder ReportBuilder, store storage.UsageStore, config Config, logger zerolog.Logger) *Tracker {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}

	return &Tracker{
		builder:  builder,
		store:    store,
		interval: config.Interval,
		logger:   logger.With().Str("component", "usage-tracker").Logger(),
		trigger:  make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins periodic collection. The first collection runs immediately.
func (t *Tracker) Start() {
	go t.run()
	t.logger.Info().Dur("interval", t.interval).Msg("Usage tracker started")
}

// Stop stops collection and waits for an in-flight run to finish.
func (t *Tracker) Stop() {
	close(t.stopChan)
	<-t.done
	t.logger.Info().Msg("Usage tracker stopped")
}

// Trigger requests a collection as soon as possible. Requests made while one
// is pending are coalesced.
func (t *Tracker) Trigger() {
	select {
	case t.trigger <- struct{}{}:
	default:
	}
}

func (t *Tracker) run() {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.collectLogged()
	for {
		select {
		case <-ticker.C:
			t.collectLogged()
		case <-t.trigger:
			t.collectLogged()
		case <-t.stopChan:
			return
		}
	}
}

func (t *Tracker) collectLogged() {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	if err := t.Collect(ctx); err != nil {
		if errors.Is(err, report.ErrPermissionDenied) {
			t.logger.Warn().Msg("Usage access not permitted, skipping collection")
			return
		}
		t.logger.Error().Err(err).Msg("Usage collection failed")
	}
}

// Collect stores today's report, finalizing the previous day first if the
// date changed since the last collection.
func (t *Tracker) Collect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Days roll over at midnight in the report zone, not the clock's
	now := t.builder.Now().In(t.builder.Location())
	today := storage.DateOf(now)

	if t.lastDate != "" && t.lastDate != today {
		t.logger.Info().Str("date", t.lastDate).Msg("Day rolled over, finalizing previous day")
		if _, err := t.collectDay(ctx, t.lastDay); err != nil {
			return fmt.Errorf("finalize %s: %w", t.lastDate, err)
		}
	}

	rep, err := t.collectDay(ctx, now)
	if err != nil {
		return err
	}

	t.lastDay, t.lastDate = now, today
	updateGauges(rep)
	return nil
}

// CollectDay stores the report for the day containing day.
func (t *Tracker) CollectDay(ctx context.Context, day time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.collectDay(ctx, day)
	return err
}

func (t *Tracker) collectDay(ctx context.Context, day time.Time) (*report.Report, error) {
	rep, err := t.builder.Build(ctx, day)
	if err != nil {
		if errors.Is(err, report.ErrPermissionDenied) {
			metrics.CollectionsTotal.WithLabelValues("no_data").Inc()
		} else {
			metrics.CollectionsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	summary, apps, sessions := Records(rep)
	if err := t.store.ReplaceDay(ctx, summary, apps, sessions); err != nil {
		metrics.CollectionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("store usage for %s: %w", rep.Date, err)
	}
	metrics.CollectionsTotal.WithLabelValues("ok").Inc()

	t.logger.Debug().
		Str("date", rep.Date).
		Int64("total_ms", summary.TotalMs).
		Int("apps", len(apps)).
		Int("sessions", len(sessions)).
		Int("pickups", summary.Pickups).
		Msg("Collected usage")

	return rep, nil
}

// Records converts a report into storage records. Per-app records use the
// unfiltered aggregates so stored totals match the device total.
func Records(rep *report.Report) (storage.DailySummary, []storage.DailyUsage, []storage.UsageSession) {
	summary := storage.DailySummary{
		Date:      rep.Date,
		TotalMs:   rep.Daily.TotalDuration.Milliseconds(),
		Pickups:   rep.Daily.PickupCount,
		Sessions:  rep.Sessions,
		Discarded: rep.Discarded,
		UpdatedAt: rep.GeneratedAt,
	}

	seen := make(map[string]int)
	apps := make([]storage.DailyUsage, 0, len(rep.Daily.PerApp))
	for appID, d := range rep.Daily.PerApp {
		seen[appID] = len(apps)
		apps = append(apps, storage.DailyUsage{
			Date:     rep.Date,
			AppID:    appID,
			TotalMs:  d.Milliseconds(),
			Launches: rep.Daily.PerAppPickups[appID],
		})
	}
	// Apps opened only for zero-length sessions still record launches
	for appID, n := range rep.Daily.PerAppPickups {
		if _, ok := seen[appID]; !ok {
			apps = append(apps, storage.DailyUsage{Date: rep.Date, AppID: appID, Launches: n})
		}
	}
	storage.SortDailyUsage(apps)

	sessions := make([]storage.UsageSession, 0, len(rep.SessionList))
	for _, s := range rep.SessionList {
		sessions = append(sessions, storage.NewUsageSession(rep.Date, s.AppID, s.Start, s.End))
	}

	return summary, apps, sessions
}

func updateGauges(rep *report.Report) {
	metrics.ScreenTimeToday.Set(rep.TotalSeconds())
	metrics.PickupsToday.Set(float64(rep.Daily.PickupCount))
	metrics.AppUsageToday.Reset()
	for _, app := range rep.Apps {
		metrics.AppUsageToday.WithLabelValues(app.AppID).Set(app.DurationSeconds)
	}
}
