package policy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/events"
	"github.com/goodtune/screentime/internal/policy/opa"
	"github.com/goodtune/screentime/internal/report"
	"github.com/goodtune/screentime/internal/usage"
)

// 2024-03-01 is a Friday
var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func at(hour, min int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func session(appID string, start, end time.Time) []events.RawEvent {
	return []events.RawEvent{
		events.Enter(appID, start.UnixMilli()),
		events.Exit(appID, end.UnixMilli()),
	}
}

var testRules = []config.RuleConfig{
	{ID: "social", Kind: "usage_budget", Apps: []string{"com.social.*"}, Limit: "1h", Mode: "combined"},
	{ID: "games", Kind: "launch_limit", Apps: []string{"com.game.x"}, MaxLaunches: 3},
	{ID: "video", Kind: "usage_budget", Apps: []string{"com.video"}, Limit: "10m", Period: "hourly"},
	{ID: "bedtime", Kind: "schedule", Apps: []string{"*"}, Start: "21:00", End: "07:00"},
	{ID: "off", Kind: "schedule", Apps: []string{"*"}, Start: "00:00", End: "23:59", Disabled: true},
}

func testSource() *events.MemorySource {
	var evts []events.RawEvent
	evts = append(evts, session("com.social.a", at(9, 0), at(9, 40))...)
	evts = append(evts, session("com.social.b", at(10, 0), at(10, 25))...)
	evts = append(evts, session("com.game.x", at(11, 0), at(11, 1))...)
	evts = append(evts, session("com.game.x", at(11, 5), at(11, 6))...)
	evts = append(evts, session("com.game.x", at(11, 10), at(11, 11))...)
	evts = append(evts, session("com.video", at(11, 30), at(11, 35))...)
	return events.NewMemorySource(evts)
}

func newTestEngine(t *testing.T, rules []config.RuleConfig) *Engine {
	t.Helper()
	engine, err := NewEngine(rules, opa.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

// evaluateAt builds the report as of now and evaluates appID against it.
func evaluateAt(t *testing.T, engine *Engine, src events.Source, now time.Time, appID string) Decision {
	t.Helper()
	clock := &usage.TestClock{CurrentTime: now}
	engine.SetClock(clock)

	builder := report.NewBuilder(src, nil, report.Config{
		Options: usage.Options{Location: time.UTC},
		Clock:   clock,
	}, zerolog.Nop())

	ctx := context.Background()
	rep, err := builder.Build(ctx, now)
	if err != nil {
		t.Fatalf("build report: %v", err)
	}
	decision, err := engine.Evaluate(ctx, rep, appID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	return decision
}

func TestEvaluate(t *testing.T) {
	engine := newTestEngine(t, testRules)
	src := testSource()

	tests := []struct {
		name          string
		now           time.Time
		app           string
		wantBlocked   bool
		wantRule      string
		wantRemaining int64
	}{
		{"combined budget partly used", at(9, 30), "com.social.a", false, "", 1800},
		{"combined budget exhausted", at(12, 0), "com.social.a", true, "social", 0},
		{"combined budget covers sibling", at(12, 0), "com.social.b", true, "social", 0},
		{"launch limit not reached", at(11, 7), "com.game.x", false, "", -1},
		{"launch limit reached", at(12, 0), "com.game.x", true, "games", 0},
		{"hourly budget", at(11, 50), "com.video", false, "", 300},
		{"hourly budget resets next hour", at(12, 10), "com.video", false, "", 600},
		{"unlisted app", at(12, 0), "com.other", false, "", -1},
		{"bedtime", at(22, 0), "com.other", true, "bedtime", 0},
		{"first blocking rule wins", at(22, 0), "com.social.a", true, "social", 0},
		{"bedtime before morning end", at(6, 59), "com.other", true, "bedtime", 0},
		{"bedtime over", at(7, 0), "com.other", false, "", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := evaluateAt(t, engine, src, tt.now, tt.app)
			if d.Blocked != tt.wantBlocked {
				t.Errorf("blocked = %v, want %v (reason: %s)", d.Blocked, tt.wantBlocked, d.Reason)
			}
			if d.RuleID != tt.wantRule {
				t.Errorf("rule = %q, want %q", d.RuleID, tt.wantRule)
			}
			if d.RemainingSeconds != tt.wantRemaining {
				t.Errorf("remaining = %d, want %d", d.RemainingSeconds, tt.wantRemaining)
			}
			if d.AppID != tt.app || !d.At.Equal(tt.now) {
				t.Errorf("decision = %+v", d)
			}
		})
	}
}

func TestEvaluateReason(t *testing.T) {
	engine := newTestEngine(t, testRules)
	d := evaluateAt(t, engine, testSource(), at(12, 0), "com.game.x")
	if !strings.Contains(d.Reason, "launch limit of 3") {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestEvaluateWithoutRules(t *testing.T) {
	engine := newTestEngine(t, nil)
	d := evaluateAt(t, engine, testSource(), at(23, 0), "com.social.a")
	if d.Blocked || d.RemainingSeconds != -1 {
		t.Errorf("decision = %+v, want allowed with no budget", d)
	}
}

func TestSetRules(t *testing.T) {
	engine := newTestEngine(t, nil)

	if err := engine.SetRules([]config.RuleConfig{{ID: "bad", Kind: "usage_budget", Apps: []string{"a"}}}); err == nil {
		t.Fatal("expected error for budget without limit")
	}
	if len(engine.Rules()) != 0 {
		t.Error("rules should be unchanged after failed update")
	}

	if err := engine.SetRules(testRules); err != nil {
		t.Fatalf("set rules: %v", err)
	}
	rules := engine.Rules()
	if len(rules) != 4 {
		t.Fatalf("expected 4 enabled rules, got %d", len(rules))
	}
	if rules[0].ID != "social" || rules[3].ID != "bedtime" {
		t.Errorf("rules out of order: %v, %v", rules[0].ID, rules[3].ID)
	}

	if err := engine.Reload(); err != nil {
		t.Errorf("reload: %v", err)
	}
}

func TestCompileRulesInvalid(t *testing.T) {
	tests := []struct {
		name string
		rule config.RuleConfig
	}{
		{"unknown kind", config.RuleConfig{ID: "r", Kind: "curfew", Apps: []string{"a"}}},
		{"no apps", config.RuleConfig{ID: "r", Kind: "launch_limit", MaxLaunches: 1}},
		{"bad pattern", config.RuleConfig{ID: "r", Kind: "launch_limit", Apps: []string{"[a"}, MaxLaunches: 1}},
		{"bad limit", config.RuleConfig{ID: "r", Kind: "usage_budget", Apps: []string{"a"}, Limit: "soon"}},
		{"zero limit", config.RuleConfig{ID: "r", Kind: "usage_budget", Apps: []string{"a"}, Limit: "0s"}},
		{"bad mode", config.RuleConfig{ID: "r", Kind: "usage_budget", Apps: []string{"a"}, Limit: "1h", Mode: "shared"}},
		{"bad period", config.RuleConfig{ID: "r", Kind: "launch_limit", Apps: []string{"a"}, MaxLaunches: 1, Period: "weekly"}},
		{"zero launches", config.RuleConfig{ID: "r", Kind: "launch_limit", Apps: []string{"a"}}},
		{"bad start", config.RuleConfig{ID: "r", Kind: "schedule", Apps: []string{"a"}, Start: "9", End: "10:00"}},
		{"empty window", config.RuleConfig{ID: "r", Kind: "schedule", Apps: []string{"a"}, Start: "10:00", End: "10:00"}},
		{"bad day", config.RuleConfig{ID: "r", Kind: "schedule", Apps: []string{"a"}, Start: "09:00", End: "10:00", Days: []string{"someday"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CompileRules([]config.RuleConfig{tt.rule}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRuleActive(t *testing.T) {
	rules, err := CompileRules([]config.RuleConfig{
		{ID: "school", Kind: "schedule", Apps: []string{"*"}, Days: []string{"Mon", "tue", "wednesday", "thu", "fri"}, Start: "08:30", End: "15:00"},
		{ID: "friday-night", Kind: "schedule", Apps: []string{"*"}, Days: []string{"fri"}, Start: "22:00", End: "06:00"},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	school, fridayNight := rules[0], rules[1]

	tests := []struct {
		name string
		rule Rule
		t    time.Time
		want bool
	}{
		{"school friday morning", school, at(9, 0), true},
		{"school start inclusive", school, at(8, 30), true},
		{"school end exclusive", school, at(15, 0), false},
		{"school saturday", school, at(24+9, 0), false},
		{"friday night late", fridayNight, at(23, 0), true},
		{"friday night continues saturday", fridayNight, at(24+2, 0), true},
		{"saturday night not listed", fridayNight, at(24+23, 0), false},
		{"thursday night spill into friday", fridayNight, at(2, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Active(tt.t); got != tt.want {
				t.Errorf("Active(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestRuleMatches(t *testing.T) {
	rule := Rule{Apps: []string{"com.social.*", "org.exact"}}
	for app, want := range map[string]bool{
		"com.social.chat": true,
		"org.exact":       true,
		"org.exact.more":  false,
		"com.socialite":   false,
	} {
		if got := rule.Matches(app); got != want {
			t.Errorf("Matches(%q) = %v, want %v", app, got, want)
		}
	}
}
