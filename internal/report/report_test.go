package report

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/screentime/internal/events"
	"github.com/goodtune/screentime/internal/metadata"
	"github.com/goodtune/screentime/internal/usage"
)

var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func at(hour, min int) int64 {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute).UnixMilli()
}

func newTestBuilder(t *testing.T, src events.Source, now time.Time) *Builder {
	t.Helper()
	catalogue, err := metadata.ParseCatalogue([]byte(`
apps:
  - id: com.app.x
    label: App X
    color: blue
`))
	if err != nil {
		t.Fatalf("parse catalogue: %v", err)
	}

	return NewBuilder(src, catalogue, Config{
		Options: usage.Options{Location: time.UTC},
		Filter:  usage.NewFilter([]string{"com.android.systemui"}, usage.DefaultMinDisplayDuration),
		Clock:   &usage.TestClock{CurrentTime: now},
	}, zerolog.Nop())
}

func TestBuild(t *testing.T) {
	src := events.NewMemorySource([]events.RawEvent{
		events.System(events.DeviceUnlocked, at(8, 0)),
		events.Enter("com.android.systemui", at(8, 0)),
		events.Enter("com.app.x", at(8, 2)),
		events.Exit("com.app.x", at(9, 2)),
		events.Enter("com.app.y", at(10, 0)),
		events.System(events.ScreenOff, at(10, 30)),
		events.Enter("com.app.z", at(11, 0)),
		events.Exit("com.app.z", at(11, 0)+30000),
	})
	b := newTestBuilder(t, src, day.Add(36*time.Hour))

	rep, err := b.Build(context.Background(), day.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if rep.Date != "2024-03-01" || rep.Status != StatusOK {
		t.Errorf("date=%s status=%s", rep.Date, rep.Status)
	}
	if rep.Sessions != 4 {
		t.Errorf("sessions = %d, want 4", rep.Sessions)
	}

	// 2m systemui + 60m x + 30m y + 30s z
	wantTotal := (2*time.Minute + 60*time.Minute + 30*time.Minute + 30*time.Second).Seconds()
	if rep.TotalSeconds() != wantTotal {
		t.Errorf("total = %v, want %v", rep.TotalSeconds(), wantTotal)
	}
	if rep.Filtered.Daily.TotalDuration != rep.Daily.TotalDuration {
		t.Error("filtered total differs from raw total")
	}

	if len(rep.Apps) != 2 {
		t.Fatalf("expected 2 displayed apps, got %+v", rep.Apps)
	}
	if rep.Apps[0].AppID != "com.app.x" || rep.Apps[0].Label != "App X" || rep.Apps[0].Color != "blue" {
		t.Errorf("first app = %+v", rep.Apps[0])
	}
	if rep.Apps[1].AppID != "com.app.y" || rep.Apps[1].Label != "com.app.y" {
		t.Errorf("second app = %+v", rep.Apps[1])
	}
	if rep.Apps[0].Pickups != 1 {
		t.Errorf("pickups = %d, want 1", rep.Apps[0].Pickups)
	}
	if rep.Daily.PickupCount != 1 {
		t.Errorf("pickupCount = %d, want 1", rep.Daily.PickupCount)
	}
	if _, ok := rep.App("com.android.systemui"); ok {
		t.Error("excluded app should not be displayed")
	}
	if rep.Hourly[8].PerApp["com.app.x"] != time.Hour {
		t.Errorf("hour 8 = %v", rep.Hourly[8].PerApp)
	}
}

func TestBuildFlushesAtNow(t *testing.T) {
	src := events.NewMemorySource([]events.RawEvent{
		events.Enter("com.app.x", at(9, 0)),
	})
	b := newTestBuilder(t, src, day.Add(9*time.Hour+20*time.Minute))

	rep, err := b.Today(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := rep.Daily.PerApp["com.app.x"]; got != 20*time.Minute {
		t.Errorf("open session = %v, want 20m", got)
	}
}

func TestBuildPermissionDenied(t *testing.T) {
	src := events.NewMemorySource([]events.RawEvent{events.Enter("com.app.x", at(9, 0))})
	src.SetPermission(false)
	b := newTestBuilder(t, src, day.Add(12*time.Hour))

	rep, err := b.Build(context.Background(), day)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if rep == nil || rep.Status != StatusNoData {
		t.Fatalf("expected no_data report, got %+v", rep)
	}
	if rep.Daily.TotalDuration != 0 || len(rep.Apps) != 0 {
		t.Errorf("no_data report should be empty: %+v", rep)
	}
}

type failingSource struct{}

func (failingSource) QueryEvents(context.Context, time.Time, time.Time) ([]events.RawEvent, error) {
	return nil, errors.New("boom")
}

func TestBuildSourceError(t *testing.T) {
	b := newTestBuilder(t, failingSource{}, day)
	if _, err := b.Build(context.Background(), day); err == nil {
		t.Fatal("expected error from failing source")
	}
}

func TestBuildRange(t *testing.T) {
	var evts []events.RawEvent
	for i := 0; i < 7; i++ {
		start := day.AddDate(0, 0, i).Add(10 * time.Hour)
		evts = append(evts,
			events.Enter("com.app.x", start.UnixMilli()),
			events.Exit("com.app.x", start.Add(time.Duration(i+1)*time.Minute*10).UnixMilli()),
		)
	}
	b := newTestBuilder(t, events.NewMemorySource(evts), day.AddDate(0, 0, 10))

	reports, err := b.BuildRange(context.Background(), day, 7)
	if err != nil {
		t.Fatalf("build range: %v", err)
	}
	if len(reports) != 7 {
		t.Fatalf("expected 7 reports, got %d", len(reports))
	}
	for i, rep := range reports {
		wantDate := day.AddDate(0, 0, i).Format(DateFormat)
		if rep.Date != wantDate {
			t.Errorf("report %d date = %s, want %s", i, rep.Date, wantDate)
		}
		want := time.Duration(i+1) * 10 * time.Minute
		if got := rep.Daily.PerApp["com.app.x"]; got != want {
			t.Errorf("report %d usage = %v, want %v", i, got, want)
		}
	}
}

func TestReportJSON(t *testing.T) {
	src := events.NewMemorySource([]events.RawEvent{
		events.Enter("com.app.x", at(9, 0)),
		events.Exit("com.app.x", at(9, 5)),
	})
	rep, err := newTestBuilder(t, src, day.Add(24*time.Hour)).Build(context.Background(), day)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	data, err := json.Marshal(rep)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded struct {
		Status string `json:"status"`
		Daily  struct {
			TotalSeconds float64 `json:"total_seconds"`
		} `json:"daily"`
		Hourly []struct {
			Hour int `json:"hour"`
		} `json:"hourly"`
		Apps []AppEntry `json:"apps"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Status != StatusOK || decoded.Daily.TotalSeconds != 300 || len(decoded.Hourly) != 24 {
		t.Errorf("unexpected JSON: %s", data)
	}
	if len(decoded.Apps) != 1 || decoded.Apps[0].DurationSeconds != 300 {
		t.Errorf("apps = %+v", decoded.Apps)
	}
}
