package usage

import (
	"encoding/json"
	"time"
)

// DefaultMaxSession is the sanity ceiling for a single session. Anything at
// or above it is evidence of a lost terminal event.
const DefaultMaxSession = 24 * time.Hour

// DefaultMinDisplayDuration is the default threshold below which per-app
// entries are hidden from display.
const DefaultMinDisplayDuration = 60 * time.Second

// Session is a closed interval of continuous foreground use for one app.
type Session struct {
	AppID string    `json:"app_id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns End - Start.
func (s Session) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// MarshalJSON adds the duration in seconds.
func (s Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AppID           string    `json:"app_id"`
		Start           time.Time `json:"start"`
		End             time.Time `json:"end"`
		DurationSeconds float64   `json:"duration_seconds"`
	}{s.AppID, s.Start, s.End, s.Duration().Seconds()})
}

// Launch records one ForegroundEntered transition.
type Launch struct {
	AppID string
	At    time.Time
}

// Result is the output of Reconstruct.
type Result struct {
	Sessions []Session
	Launches []Launch

	// PickupCount is the number of DeviceUnlocked events in the window.
	PickupCount int

	// PerAppPickups counts ForegroundEntered transitions per app.
	PerAppPickups map[string]int

	// Discarded counts sessions dropped by the sanity ceiling.
	Discarded int
}

// HourBucket is the usage attributed to one hour of the day.
type HourBucket struct {
	Hour          int
	TotalDuration time.Duration
	PerApp        map[string]time.Duration
	Launches      map[string]int
}

// MarshalJSON encodes durations as seconds.
func (b HourBucket) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Hour         int                `json:"hour"`
		TotalSeconds float64            `json:"total_seconds"`
		PerApp       map[string]float64 `json:"per_app_seconds"`
		Launches     map[string]int     `json:"launches"`
	}{b.Hour, b.TotalDuration.Seconds(), seconds(b.PerApp), nonNilCounts(b.Launches)})
}

// DailyTotal is the per-app usage across the whole window.
type DailyTotal struct {
	PerApp        map[string]time.Duration
	TotalDuration time.Duration
	PickupCount   int
	PerAppPickups map[string]int
}

// MarshalJSON encodes durations as seconds.
func (d DailyTotal) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PerApp        map[string]float64 `json:"per_app_seconds"`
		TotalSeconds  float64            `json:"total_seconds"`
		PickupCount   int                `json:"pickup_count"`
		PerAppPickups map[string]int     `json:"per_app_pickups"`
	}{seconds(d.PerApp), d.TotalDuration.Seconds(), d.PickupCount, nonNilCounts(d.PerAppPickups)})
}

// Usage bundles the hourly and daily aggregates for one window.
type Usage struct {
	Hourly [24]HourBucket `json:"hourly"`
	Daily  DailyTotal     `json:"daily"`
}

// Bucketing selects how session time is attributed to hours.
type Bucketing string

const (
	// BucketByStart attributes a whole session to the hour it started in.
	BucketByStart Bucketing = "start"

	// BucketByOverlap splits a session across every hour it overlaps.
	BucketByOverlap Bucketing = "overlap"
)

// Options tune reconstruction and aggregation. The zero value uses the local
// time zone, a 24h ceiling and start-hour bucketing.
type Options struct {
	Location   *time.Location
	MaxSession time.Duration
	Bucketing  Bucketing
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.Local
	}
	return o.Location
}

func (o Options) maxSession() time.Duration {
	if o.MaxSession <= 0 {
		return DefaultMaxSession
	}
	return o.MaxSession
}

// NewUsage returns zero-filled aggregates with initialized maps.
func NewUsage() Usage {
	var u Usage
	for h := range u.Hourly {
		u.Hourly[h] = HourBucket{
			Hour:     h,
			PerApp:   make(map[string]time.Duration),
			Launches: make(map[string]int),
		}
	}
	u.Daily = DailyTotal{
		PerApp:        make(map[string]time.Duration),
		PerAppPickups: make(map[string]int),
	}
	return u
}

func seconds(m map[string]time.Duration) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v.Seconds()
	}
	return out
}

func nonNilCounts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
