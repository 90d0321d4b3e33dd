package usage

import (
	"reflect"
	"testing"
	"time"

	"github.com/goodtune/screentime/internal/events"
)

const sec = int64(1000)

var utc = Options{Location: time.UTC}

func ms(v int64) time.Time { return time.UnixMilli(v) }

func assertSessions(t *testing.T, got []Session, want []Session) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d sessions, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i].AppID != want[i].AppID || !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Errorf("session %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReconstruct_SessionClosure(t *testing.T) {
	evts := []events.RawEvent{
		events.Enter("com.app.x", 1000*sec),
		events.Exit("com.app.x", 4600*sec),
	}

	res, u := Compute(evts, ms(0), ms(100000*sec), time.Time{}, utc)

	assertSessions(t, res.Sessions, []Session{{AppID: "com.app.x", Start: ms(1000 * sec), End: ms(4600 * sec)}})
	if d := res.Sessions[0].Duration(); d != 3600*time.Second {
		t.Errorf("duration = %v, want 1h", d)
	}

	hour := ms(1000 * sec).In(time.UTC).Hour()
	if got := u.Hourly[hour].PerApp["com.app.x"]; got != 3600*time.Second {
		t.Errorf("hour %d bucket = %v, want 1h", hour, got)
	}
	if res.PerAppPickups["com.app.x"] != 1 {
		t.Errorf("perAppPickups = %d, want 1", res.PerAppPickups["com.app.x"])
	}
}

func TestReconstruct_ImplicitCloseOnSwitch(t *testing.T) {
	evts := []events.RawEvent{
		events.Enter("A", 0),
		events.Enter("B", 500*sec),
	}

	res := Reconstruct(evts, ms(0), ms(1000*sec), time.Time{}, utc)

	assertSessions(t, res.Sessions, []Session{
		{AppID: "A", Start: ms(0), End: ms(500 * sec)},
		{AppID: "B", Start: ms(500 * sec), End: ms(1000 * sec)},
	})
	if res.PerAppPickups["A"] != 1 || res.PerAppPickups["B"] != 1 {
		t.Errorf("unexpected per-app pickups: %v", res.PerAppPickups)
	}
}

func TestReconstruct_SwitchLeavesNewSessionOpen(t *testing.T) {
	evts := []events.RawEvent{
		events.Enter("A", 0),
		events.Enter("B", 100*sec),
		events.Exit("B", 250*sec),
	}

	res := Reconstruct(evts, ms(0), ms(1000*sec), time.Time{}, utc)

	assertSessions(t, res.Sessions, []Session{
		{AppID: "A", Start: ms(0), End: ms(100 * sec)},
		{AppID: "B", Start: ms(100 * sec), End: ms(250 * sec)},
	})
}

func TestReconstruct_InterruptionClosesSession(t *testing.T) {
	for _, kind := range []events.Kind{events.ScreenOff, events.DeviceLocked, events.DeviceShutdown} {
		t.Run(string(kind), func(t *testing.T) {
			evts := []events.RawEvent{
				events.Enter("A", 0),
				events.System(kind, 300*sec),
				events.Exit("A", 400*sec),
			}

			res := Reconstruct(evts, ms(0), ms(1000*sec), time.Time{}, utc)

			// The late exit finds the machine idle and is ignored
			assertSessions(t, res.Sessions, []Session{{AppID: "A", Start: ms(0), End: ms(300 * sec)}})
		})
	}
}

func TestReconstruct_GapNotCounted(t *testing.T) {
	evts := []events.RawEvent{
		events.Enter("A", 0),
		events.System(events.ScreenOff, 300*sec),
		events.Enter("A", 9000*sec),
		events.Exit("A", 9100*sec),
	}

	res, u := Compute(evts, ms(0), ms(20000*sec), time.Time{}, utc)

	assertSessions(t, res.Sessions, []Session{
		{AppID: "A", Start: ms(0), End: ms(300 * sec)},
		{AppID: "A", Start: ms(9000 * sec), End: ms(9100 * sec)},
	})
	if u.Daily.PerApp["A"] != 400*time.Second {
		t.Errorf("daily A = %v, want 400s", u.Daily.PerApp["A"])
	}
}

func TestReconstruct_NoZeroDurationSessions(t *testing.T) {
	tests := []struct {
		name string
		evts []events.RawEvent
	}{
		{"exit at same instant", []events.RawEvent{events.Enter("A", 10*sec), events.Exit("A", 10*sec)}},
		{"switch at same instant", []events.RawEvent{events.Enter("A", 10*sec), events.Enter("B", 10*sec), events.Exit("B", 10*sec)}},
		{"screen off at same instant", []events.RawEvent{events.Enter("A", 10*sec), events.System(events.ScreenOff, 10*sec)}},
		{"out of order exit", []events.RawEvent{events.Enter("A", 10*sec), events.Exit("A", 5*sec)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Reconstruct(tt.evts, ms(0), ms(10*sec), time.Time{}, utc)
			for _, s := range res.Sessions {
				if s.Duration() <= 0 {
					t.Errorf("emitted non-positive session %+v", s)
				}
			}
		})
	}
}

func TestReconstruct_StaleExitIgnored(t *testing.T) {
	evts := []events.RawEvent{
		events.Enter("A", 0),
		events.Exit("B", 50*sec),
		events.Exit("A", 100*sec),
	}

	res := Reconstruct(evts, ms(0), ms(1000*sec), time.Time{}, utc)

	assertSessions(t, res.Sessions, []Session{{AppID: "A", Start: ms(0), End: ms(100 * sec)}})
}

func TestReconstruct_PickupCount(t *testing.T) {
	evts := []events.RawEvent{
		events.System(events.DeviceUnlocked, 0),
		events.Enter("A", 10*sec),
		events.System(events.DeviceLocked, 20*sec),
		events.System(events.DeviceUnlocked, 30*sec),
		events.System(events.ScreenOn, 31*sec),
		events.Enter("A", 40*sec),
		events.Exit("A", 50*sec),
	}

	res := Reconstruct(evts, ms(0), ms(100*sec), time.Time{}, utc)

	if res.PickupCount != 2 {
		t.Errorf("pickupCount = %d, want 2", res.PickupCount)
	}
	if res.PerAppPickups["A"] != 2 {
		t.Errorf("perAppPickups[A] = %d, want 2", res.PerAppPickups["A"])
	}
}

func TestReconstruct_FlushUsesNow(t *testing.T) {
	evts := []events.RawEvent{events.Enter("A", 100*sec)}

	res := Reconstruct(evts, ms(0), ms(1000*sec), ms(400*sec), utc)
	assertSessions(t, res.Sessions, []Session{{AppID: "A", Start: ms(100 * sec), End: ms(400 * sec)}})

	res = Reconstruct(evts, ms(0), ms(1000*sec), ms(5000*sec), utc)
	assertSessions(t, res.Sessions, []Session{{AppID: "A", Start: ms(100 * sec), End: ms(1000 * sec)}})
}

func TestReconstruct_SanityCeiling(t *testing.T) {
	day := int64(24 * 3600 * sec)

	t.Run("flushed session", func(t *testing.T) {
		evts := []events.RawEvent{events.Enter("A", 0)}
		res := Reconstruct(evts, ms(0), ms(2*day), time.Time{}, utc)
		if len(res.Sessions) != 0 {
			t.Fatalf("expected no sessions, got %+v", res.Sessions)
		}
		if res.Discarded != 1 {
			t.Errorf("discarded = %d, want 1", res.Discarded)
		}
	})

	t.Run("closed session", func(t *testing.T) {
		evts := []events.RawEvent{
			events.Enter("A", 0),
			events.Exit("A", day+sec),
			events.Enter("B", day+2*sec),
			events.Exit("B", day+62*sec),
		}
		res := Reconstruct(evts, ms(0), ms(2*day), time.Time{}, utc)
		assertSessions(t, res.Sessions, []Session{{AppID: "B", Start: ms(day + 2*sec), End: ms(day + 62*sec)}})
		if res.Discarded != 1 {
			t.Errorf("discarded = %d, want 1", res.Discarded)
		}
	})

	t.Run("custom ceiling", func(t *testing.T) {
		evts := []events.RawEvent{events.Enter("A", 0), events.Exit("A", 3600*sec)}
		res := Reconstruct(evts, ms(0), ms(day), time.Time{}, Options{Location: time.UTC, MaxSession: time.Hour})
		if len(res.Sessions) != 0 || res.Discarded != 1 {
			t.Errorf("expected 1h session to hit a 1h ceiling, got %+v", res)
		}
	})
}

func TestCompute_EmptyWindow(t *testing.T) {
	start, end := DayWindow(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), time.UTC)

	res, u := Compute(nil, start, end, time.Time{}, utc)

	if len(res.Sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(res.Sessions))
	}
	for h, b := range u.Hourly {
		if b.Hour != h || b.TotalDuration != 0 || len(b.PerApp) != 0 {
			t.Errorf("bucket %d not zero: %+v", h, b)
		}
	}
	if len(u.Daily.PerApp) != 0 || u.Daily.PickupCount != 0 || u.Daily.TotalDuration != 0 {
		t.Errorf("daily not zero: %+v", u.Daily)
	}
}

func TestAggregate_Conservation(t *testing.T) {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC).UnixMilli()
	evts := []events.RawEvent{
		events.Enter("A", base),
		events.Enter("B", base+1800*sec),
		events.Exit("B", base+5400*sec),
		events.Enter("A", base+5500*sec),
		events.System(events.ScreenOff, base+9000*sec),
		events.Enter("C", base+9100*sec),
		events.Exit("C", base+9101*sec),
	}

	for _, bucketing := range []Bucketing{BucketByStart, BucketByOverlap} {
		t.Run(string(bucketing), func(t *testing.T) {
			opts := Options{Location: time.UTC, Bucketing: bucketing}
			res, u := Compute(evts, ms(base), ms(base+86399*sec), time.Time{}, opts)

			var sessions time.Duration
			for _, s := range res.Sessions {
				sessions += s.Duration()
			}

			var daily time.Duration
			for _, d := range u.Daily.PerApp {
				daily += d
			}

			var hourly time.Duration
			for _, b := range u.Hourly {
				var perApp time.Duration
				for _, d := range b.PerApp {
					perApp += d
				}
				if perApp != b.TotalDuration {
					t.Errorf("hour %d: per-app sum %v != total %v", b.Hour, perApp, b.TotalDuration)
				}
				hourly += b.TotalDuration
			}

			if daily != sessions || hourly != sessions || u.Daily.TotalDuration != sessions {
				t.Errorf("conservation broken: sessions=%v daily=%v hourly=%v total=%v",
					sessions, daily, hourly, u.Daily.TotalDuration)
			}
		})
	}
}

func TestAggregate_Bucketing(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 50, 0, 0, time.UTC)
	res := Result{
		Sessions: []Session{{AppID: "A", Start: start, End: start.Add(30 * time.Minute)}},
		Launches: []Launch{{AppID: "A", At: start}},
	}

	byStart := Aggregate(res, Options{Location: time.UTC})
	if byStart.Hourly[9].PerApp["A"] != 30*time.Minute || byStart.Hourly[10].TotalDuration != 0 {
		t.Errorf("start bucketing: hour9=%v hour10=%v", byStart.Hourly[9].PerApp["A"], byStart.Hourly[10].TotalDuration)
	}
	if byStart.Hourly[9].Launches["A"] != 1 {
		t.Errorf("launches in hour 9 = %d, want 1", byStart.Hourly[9].Launches["A"])
	}

	byOverlap := Aggregate(res, Options{Location: time.UTC, Bucketing: BucketByOverlap})
	if byOverlap.Hourly[9].PerApp["A"] != 10*time.Minute || byOverlap.Hourly[10].PerApp["A"] != 20*time.Minute {
		t.Errorf("overlap bucketing: hour9=%v hour10=%v", byOverlap.Hourly[9].PerApp["A"], byOverlap.Hourly[10].PerApp["A"])
	}

	// Hours follow the configured zone
	tokyo := time.FixedZone("JST", 9*3600)
	inTokyo := Aggregate(res, Options{Location: tokyo})
	if inTokyo.Hourly[18].PerApp["A"] != 30*time.Minute {
		t.Errorf("expected session in hour 18 JST, got %+v", inTokyo.Hourly[18])
	}
}

func TestSanitize_ExcludedApps(t *testing.T) {
	u := NewUsage()
	u.Daily.PerApp["com.android.systemui"] = 120 * time.Second
	u.Daily.PerApp["com.app.x"] = 3600 * time.Second
	u.Daily.TotalDuration = 3720 * time.Second

	got := Sanitize(u, NewFilter([]string{"com.android.systemui"}, 0))

	want := map[string]time.Duration{"com.app.x": 3600 * time.Second}
	if !reflect.DeepEqual(got.Daily.PerApp, want) {
		t.Errorf("filtered per-app = %v, want %v", got.Daily.PerApp, want)
	}
	if got.Daily.TotalDuration != 3720*time.Second {
		t.Errorf("total = %v, want 3720s", got.Daily.TotalDuration)
	}

	// Input untouched
	if len(u.Daily.PerApp) != 2 {
		t.Errorf("sanitize mutated its input: %v", u.Daily.PerApp)
	}
}

func TestSanitize_Threshold(t *testing.T) {
	u := NewUsage()
	u.Daily.PerApp["short"] = 60 * time.Second
	u.Daily.PerApp["long"] = 61 * time.Second
	u.Daily.PerAppPickups["short"] = 3
	u.Daily.TotalDuration = 121 * time.Second
	u.Hourly[4].PerApp["short"] = 60 * time.Second
	u.Hourly[4].PerApp["long"] = 61 * time.Second
	u.Hourly[4].TotalDuration = 121 * time.Second

	got := Sanitize(u, NewFilter(nil, DefaultMinDisplayDuration))

	if _, ok := got.Daily.PerApp["short"]; ok {
		t.Error("entry at the threshold should be hidden")
	}
	if got.Daily.PerApp["long"] != 61*time.Second {
		t.Errorf("long = %v, want 61s", got.Daily.PerApp["long"])
	}
	if got.Daily.PerAppPickups["short"] != 3 {
		t.Error("pickups should survive the duration threshold")
	}
	if got.Hourly[4].TotalDuration != 121*time.Second || len(got.Hourly[4].PerApp) != 1 {
		t.Errorf("hour 4 = %+v", got.Hourly[4])
	}
}

func TestSanitize_Properties(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	evts := []events.RawEvent{
		events.System(events.DeviceUnlocked, base),
		events.Enter("com.android.systemui", base+sec),
		events.Enter("com.app.x", base+121*sec),
		events.Exit("com.app.x", base+3721*sec),
		events.Enter("com.app.y", base+4000*sec),
		events.Exit("com.app.y", base+4030*sec),
	}
	_, u := Compute(evts, ms(base), ms(base+86399*sec), time.Time{}, utc)
	f := NewFilter([]string{"com.android.systemui"}, DefaultMinDisplayDuration)

	once := Sanitize(u, f)
	twice := Sanitize(once, f)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("sanitize not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
	if once.Daily.TotalDuration != u.Daily.TotalDuration {
		t.Errorf("total changed: %v -> %v", u.Daily.TotalDuration, once.Daily.TotalDuration)
	}
	for h := range u.Hourly {
		if once.Hourly[h].TotalDuration != u.Hourly[h].TotalDuration {
			t.Errorf("hour %d total changed", h)
		}
	}
	if once.Daily.PickupCount != 1 {
		t.Errorf("pickupCount = %d, want 1", once.Daily.PickupCount)
	}
	if !reflect.DeepEqual(once.Daily.PerApp, map[string]time.Duration{"com.app.x": time.Hour}) {
		t.Errorf("unexpected displayed apps: %v", once.Daily.PerApp)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	evts := []events.RawEvent{
		events.Enter("A", base+10*sec),
		events.Enter("B", base+3700*sec),
		events.System(events.DeviceUnlocked, base+3800*sec),
		events.Exit("B", base+7300*sec),
		events.Enter("C", base+8000*sec),
	}
	start, end := ms(base), ms(base+86399*sec)

	res1, u1 := Compute(evts, start, end, time.Time{}, utc)
	res2, u2 := Compute(evts, start, end, time.Time{}, utc)

	if !reflect.DeepEqual(res1, res2) || !reflect.DeepEqual(u1, u2) {
		t.Error("repeated computation produced different output")
	}
}

func TestDayWindow(t *testing.T) {
	loc := time.FixedZone("X", -5*3600)
	start, end := DayWindow(time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC), loc)

	if want := time.Date(2024, 3, 1, 0, 0, 0, 0, loc); !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	if want := time.Date(2024, 3, 1, 23, 59, 59, int(999*time.Millisecond), loc); !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}
}
