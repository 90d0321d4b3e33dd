// Package report builds per-day usage reports from an event source.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/goodtune/screentime/internal/events"
	"github.com/goodtune/screentime/internal/metadata"
	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/usage"
)

// DateFormat is the layout of Report.Date and storage day keys.
const DateFormat = "2006-01-02"

// ErrPermissionDenied is returned when the event source may not be queried.
var ErrPermissionDenied = errors.New("report: usage access not permitted")

// Status values.
const (
	StatusOK     = "ok"
	StatusNoData = "no_data"
)

// Report is the serializable usage summary for one day.
type Report struct {
	Date        string    `json:"date"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	GeneratedAt time.Time `json:"generated_at"`
	Status      string    `json:"status"`

	Hourly   [24]usage.HourBucket `json:"hourly"`
	Daily    usage.DailyTotal     `json:"daily"`
	Filtered usage.Usage          `json:"filtered"`
	Apps     []AppEntry           `json:"apps"`

	Sessions  int `json:"sessions"`
	Discarded int `json:"discarded"`

	// SessionList holds the reconstructed sessions for persistence.
	SessionList []usage.Session `json:"-"`
}

// AppEntry is one displayed app in a report.
type AppEntry struct {
	AppID           string  `json:"app_id"`
	Label           string  `json:"label"`
	Icon            string  `json:"icon,omitempty"`
	Category        string  `json:"category,omitempty"`
	Color           string  `json:"color,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	Pickups         int     `json:"pickups"`
}

// TotalSeconds returns the unfiltered screen time.
func (r *Report) TotalSeconds() float64 {
	return r.Daily.TotalDuration.Seconds()
}

// App returns the displayed entry for appID.
func (r *Report) App(appID string) (AppEntry, bool) {
	for _, a := range r.Apps {
		if a.AppID == appID {
			return a, true
		}
	}
	return AppEntry{}, false
}

// Config controls how reports are built.
type Config struct {
	Options usage.Options
	Filter  usage.Filter
	Clock   usage.Clock
}

// Builder runs the reconstruction pipeline against an event source.
type Builder struct {
	source   events.Source
	resolver metadata.Resolver
	options  usage.Options
	filter   usage.Filter
	clock    usage.Clock
	logger   zerolog.Logger
}

// NewBuilder creates a report builder. If source also implements
// events.PermissionGate it is checked before every query.
func NewBuilder(source events.Source, resolver metadata.Resolver, cfg Config, logger zerolog.Logger) *Builder {
	if cfg.Clock == nil {
		cfg.Clock = usage.RealClock{}
	}
	if cfg.Options.Location == nil {
		cfg.Options.Location = time.Local
	}
	return &Builder{
		source:   source,
		resolver: resolver,
		options:  cfg.Options,
		filter:   cfg.Filter,
		clock:    cfg.Clock,
		logger:   logger.With().Str("component", "report").Logger(),
	}
}

// Location returns the time zone reports are computed in.
func (b *Builder) Location() *time.Location {
	return b.options.Location
}

// Now returns the builder clock's current time.
func (b *Builder) Now() time.Time {
	return b.clock.Now()
}

// Today builds the report for the current day.
func (b *Builder) Today(ctx context.Context) (*Report, error) {
	return b.Build(ctx, b.clock.Now())
}

// Build computes the report for the calendar day containing day.
//
// When the source denies access the returned report has status "no_data"
// and the error wraps ErrPermissionDenied.
func (b *Builder) Build(ctx context.Context, day time.Time) (*Report, error) {
	started := time.Now()
	now := b.clock.Now()
	windowStart, windowEnd := usage.DayWindow(day, b.options.Location)

	rep := &Report{
		Date:        windowStart.Format(DateFormat),
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		GeneratedAt: now,
	}

	if gate, ok := b.source.(events.PermissionGate); ok && !gate.HasPermission() {
		metrics.PermissionDenied.Inc()
		b.fill(rep, usage.Result{}, usage.NewUsage())
		rep.Status = StatusNoData
		return rep, ErrPermissionDenied
	}

	// Nothing after now has happened yet
	queryEnd := windowEnd
	if now.Before(queryEnd) {
		queryEnd = now
	}

	evts, err := b.source.QueryEvents(ctx, windowStart, queryEnd)
	if err != nil {
		metrics.EventSourceErrors.Inc()
		return nil, fmt.Errorf("query events for %s: %w", rep.Date, err)
	}

	res, agg := usage.Compute(evts, windowStart, windowEnd, now, b.options)
	b.fill(rep, res, agg)
	rep.Status = StatusOK

	for _, e := range evts {
		metrics.EventsProcessed.WithLabelValues(string(e.Kind)).Inc()
	}
	metrics.SessionsReconstructed.Add(float64(len(res.Sessions)))
	metrics.SessionsDiscarded.Add(float64(res.Discarded))
	metrics.ReportDuration.Observe(time.Since(started).Seconds())

	b.logger.Debug().
		Str("date", rep.Date).
		Int("events", len(evts)).
		Int("sessions", rep.Sessions).
		Int("discarded", rep.Discarded).
		Dur("total", agg.Daily.TotalDuration).
		Msg("Built usage report")

	return rep, nil
}

// BuildRange builds reports for days consecutive days starting at from.
// Days are computed concurrently; results are in day order.
func (b *Builder) BuildRange(ctx context.Context, from time.Time, days int) ([]*Report, error) {
	if days <= 0 {
		return nil, nil
	}

	start, _ := usage.DayWindow(from, b.options.Location)
	reports := make([]*Report, days)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		g.Go(func() error {
			rep, err := b.Build(gctx, day)
			if err != nil && !errors.Is(err, ErrPermissionDenied) {
				return err
			}
			reports[i] = rep
			return err
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return reports, err
		}
		return nil, err
	}
	return reports, nil
}

func (b *Builder) fill(rep *Report, res usage.Result, agg usage.Usage) {
	filtered := usage.Sanitize(agg, b.filter)

	rep.Hourly = agg.Hourly
	rep.Daily = agg.Daily
	rep.Filtered = filtered
	rep.Sessions = len(res.Sessions)
	rep.Discarded = res.Discarded
	rep.SessionList = res.Sessions
	rep.Apps = b.apps(filtered.Daily)
}

func (b *Builder) apps(daily usage.DailyTotal) []AppEntry {
	apps := make([]AppEntry, 0, len(daily.PerApp))
	for appID, d := range daily.PerApp {
		meta := metadata.Resolve(b.resolver, appID)
		apps = append(apps, AppEntry{
			AppID:           appID,
			Label:           meta.Label,
			Icon:            meta.Icon,
			Category:        meta.Category,
			Color:           meta.Color,
			DurationSeconds: d.Seconds(),
			Pickups:         daily.PerAppPickups[appID],
		})
	}

	sort.Slice(apps, func(i, j int) bool {
		if apps[i].DurationSeconds != apps[j].DurationSeconds {
			return apps[i].DurationSeconds > apps[j].DurationSeconds
		}
		return apps[i].AppID < apps[j].AppID
	})
	return apps
}
