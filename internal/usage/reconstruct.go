// Package usage turns OS lifecycle events into usage sessions and
// aggregates them by hour and by day.
//
// Everything here is a pure function of its inputs. Nothing logs, blocks or
// returns an error: unexpected input produces fewer or shorter sessions.
package usage

import (
	"time"

	"github.com/goodtune/screentime/internal/events"
)

// Reconstruct replays evts, which the event source delivers in timestamp
// order, and returns the closed sessions in the window.
//
// A session still open after the last event is flushed at the earlier of
// windowEnd and now. A zero now flushes at windowEnd.
func Reconstruct(evts []events.RawEvent, windowStart, windowEnd, now time.Time, opts Options) Result {
	r := reconstructor{
		maxSession: opts.maxSession(),
		result: Result{
			PerAppPickups: make(map[string]int),
		},
	}

	for _, e := range evts {
		r.apply(e)
	}

	flushAt := windowEnd
	if !now.IsZero() && now.Before(flushAt) {
		flushAt = now
	}
	if r.open && !flushAt.Before(windowStart) {
		r.close(flushAt)
	}

	return r.result
}

type reconstructor struct {
	maxSession time.Duration

	open  bool
	app   string
	start time.Time

	result Result
}

func (r *reconstructor) apply(e events.RawEvent) {
	t := e.Time()

	switch e.Kind {
	case events.ForegroundEntered:
		if e.AppID == "" {
			return
		}
		if r.open {
			r.close(t)
		}
		r.open, r.app, r.start = true, e.AppID, t
		r.result.PerAppPickups[e.AppID]++
		r.result.Launches = append(r.result.Launches, Launch{AppID: e.AppID, At: t})

	case events.ForegroundExited:
		// Exits for anything but the current app are stale
		if r.open && e.AppID == r.app {
			r.close(t)
		}

	case events.ScreenOff, events.DeviceLocked, events.DeviceShutdown:
		if r.open {
			r.close(t)
		}

	case events.DeviceUnlocked:
		r.result.PickupCount++
	}
}

// close ends the current session at t and returns to idle.
func (r *reconstructor) close(t time.Time) {
	s := Session{AppID: r.app, Start: r.start, End: t}
	r.open, r.app, r.start = false, "", time.Time{}

	d := s.Duration()
	switch {
	case d <= 0:
	case d >= r.maxSession:
		r.result.Discarded++
	default:
		r.result.Sessions = append(r.result.Sessions, s)
	}
}
