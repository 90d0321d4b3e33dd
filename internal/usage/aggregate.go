package usage

import (
	"time"

	"github.com/goodtune/screentime/internal/events"
)

// Aggregate folds a reconstruction result into hourly and daily totals.
// Pickup tallies are carried through unchanged.
func Aggregate(res Result, opts Options) Usage {
	u := NewUsage()
	loc := opts.location()

	for _, s := range res.Sessions {
		d := s.Duration()
		if d <= 0 {
			continue
		}

		if opts.Bucketing == BucketByOverlap {
			for _, p := range splitByHour(s, loc) {
				u.Hourly[p.hour].add(s.AppID, p.d)
			}
		} else {
			u.Hourly[s.Start.In(loc).Hour()].add(s.AppID, d)
		}

		u.Daily.PerApp[s.AppID] += d
		u.Daily.TotalDuration += d
	}

	for _, l := range res.Launches {
		u.Hourly[l.At.In(loc).Hour()].Launches[l.AppID]++
	}

	u.Daily.PickupCount = res.PickupCount
	for app, n := range res.PerAppPickups {
		u.Daily.PerAppPickups[app] = n
	}

	return u
}

// Compute runs Reconstruct and Aggregate over one window.
func Compute(evts []events.RawEvent, windowStart, windowEnd, now time.Time, opts Options) (Result, Usage) {
	res := Reconstruct(evts, windowStart, windowEnd, now, opts)
	return res, Aggregate(res, opts)
}

func (b *HourBucket) add(app string, d time.Duration) {
	b.TotalDuration += d
	b.PerApp[app] += d
}

type hourPiece struct {
	hour int
	d    time.Duration
}

// splitByHour cuts s at every wall-clock hour boundary in loc.
func splitByHour(s Session, loc *time.Location) []hourPiece {
	var pieces []hourPiece
	cur := s.Start.In(loc)
	end := s.End.In(loc)

	for cur.Before(end) {
		next := time.Date(cur.Year(), cur.Month(), cur.Day(), cur.Hour()+1, 0, 0, 0, loc)
		if !next.After(cur) {
			// DST transitions can fold the wall clock back
			next = cur.Add(time.Hour).Truncate(time.Hour)
		}
		if next.After(end) {
			next = end
		}
		pieces = append(pieces, hourPiece{hour: cur.Hour(), d: next.Sub(cur)})
		cur = next
	}

	return pieces
}
