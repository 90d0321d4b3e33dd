package usage

import "time"

// Filter is the display policy applied by Sanitize.
type Filter struct {
	// ExcludedApps are hidden from per-app breakdowns. Their time still
	// counts toward totals.
	ExcludedApps map[string]struct{}

	// MinDuration hides per-app entries at or below it.
	MinDuration time.Duration
}

// NewFilter builds a Filter from a list of excluded app ids.
func NewFilter(excluded []string, minDuration time.Duration) Filter {
	f := Filter{
		ExcludedApps: make(map[string]struct{}, len(excluded)),
		MinDuration:  minDuration,
	}
	for _, id := range excluded {
		f.ExcludedApps[id] = struct{}{}
	}
	return f
}

// Excluded reports whether appID is hidden by the filter.
func (f Filter) Excluded(appID string) bool {
	_, ok := f.ExcludedApps[appID]
	return ok
}

// Sanitize returns a copy of u with excluded and sub-threshold entries
// removed from the per-app maps. Totals and pickup counts are untouched.
// Applying it twice gives the same result as applying it once.
func Sanitize(u Usage, f Filter) Usage {
	out := Usage{}

	for h, b := range u.Hourly {
		out.Hourly[h] = HourBucket{
			Hour:          b.Hour,
			TotalDuration: b.TotalDuration,
			PerApp:        f.durations(b.PerApp),
			Launches:      f.counts(b.Launches),
		}
	}

	out.Daily = DailyTotal{
		PerApp:        f.durations(u.Daily.PerApp),
		TotalDuration: u.Daily.TotalDuration,
		PickupCount:   u.Daily.PickupCount,
		PerAppPickups: f.counts(u.Daily.PerAppPickups),
	}

	return out
}

func (f Filter) durations(in map[string]time.Duration) map[string]time.Duration {
	out := make(map[string]time.Duration, len(in))
	for app, d := range in {
		if f.Excluded(app) || d <= f.MinDuration {
			continue
		}
		out[app] = d
	}
	return out
}

// counts drops excluded apps only; launch tallies have no threshold.
func (f Filter) counts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for app, n := range in {
		if f.Excluded(app) {
			continue
		}
		out[app] = n
	}
	return out
}
