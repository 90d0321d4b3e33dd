package policy

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/goodtune/screentime/internal/config"
)

// Kind is a blocking rule type.
type Kind string

const (
	KindUsageBudget Kind = "usage_budget"
	KindLaunchLimit Kind = "launch_limit"
	KindSchedule    Kind = "schedule"
)

// Mode controls how a usage budget counts the listed apps.
type Mode string

const (
	ModeSeparate Mode = "separate" // each app against the limit
	ModeCombined Mode = "combined" // sum of the listed apps against the limit
)

// Period is the window a budget or launch limit applies to.
type Period string

const (
	PeriodDaily  Period = "daily"
	PeriodHourly Period = "hourly"
)

// Rule is a validated blocking rule.
type Rule struct {
	ID          string
	Kind        Kind
	Apps        []string // exact ids or path.Match patterns, "*" for every app
	Limit       time.Duration
	Mode        Mode
	Period      Period
	MaxLaunches int
	Days        []time.Weekday // empty means every day
	Start, End  int            // minutes after midnight; End < Start spans midnight
}

// Decision is the blocking verdict for one app.
type Decision struct {
	AppID            string    `json:"app_id"`
	At               time.Time `json:"at"`
	Blocked          bool      `json:"blocked"`
	Reason           string    `json:"reason,omitempty"`
	RuleID           string    `json:"rule_id,omitempty"`
	RemainingSeconds int64     `json:"remaining_seconds"` // -1 when no budget applies
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// CompileRules validates configured rules, dropping disabled ones and
// keeping configuration order.
func CompileRules(configs []config.RuleConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(configs))
	for _, rc := range configs {
		if rc.Disabled {
			continue
		}
		rule, err := compileRule(rc)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rc.ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func compileRule(rc config.RuleConfig) (Rule, error) {
	rule := Rule{
		ID:     rc.ID,
		Kind:   Kind(rc.Kind),
		Apps:   rc.Apps,
		Mode:   ModeSeparate,
		Period: PeriodDaily,
	}

	if len(rule.Apps) == 0 {
		return Rule{}, fmt.Errorf("no apps listed")
	}
	for _, pattern := range rule.Apps {
		if _, err := path.Match(pattern, ""); err != nil {
			return Rule{}, fmt.Errorf("invalid app pattern %q", pattern)
		}
	}
	if rc.Period != "" {
		rule.Period = Period(rc.Period)
	}
	if rule.Period != PeriodDaily && rule.Period != PeriodHourly {
		return Rule{}, fmt.Errorf("invalid period %q (must be daily or hourly)", rc.Period)
	}

	switch rule.Kind {
	case KindUsageBudget:
		limit, err := time.ParseDuration(rc.Limit)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid limit: %w", err)
		}
		if limit <= 0 {
			return Rule{}, fmt.Errorf("limit must be positive: %s", rc.Limit)
		}
		rule.Limit = limit
		if rc.Mode != "" {
			rule.Mode = Mode(rc.Mode)
		}
		if rule.Mode != ModeSeparate && rule.Mode != ModeCombined {
			return Rule{}, fmt.Errorf("invalid mode %q (must be separate or combined)", rc.Mode)
		}

	case KindLaunchLimit:
		if rc.MaxLaunches <= 0 {
			return Rule{}, fmt.Errorf("max_launches must be positive: %d", rc.MaxLaunches)
		}
		rule.MaxLaunches = rc.MaxLaunches

	case KindSchedule:
		startH, startM, err := config.ParseClock(rc.Start)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid start: %w", err)
		}
		endH, endM, err := config.ParseClock(rc.End)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid end: %w", err)
		}
		rule.Start = startH*60 + startM
		rule.End = endH*60 + endM
		if rule.Start == rule.End {
			return Rule{}, fmt.Errorf("start and end are equal")
		}
		for _, day := range rc.Days {
			key := strings.ToLower(day)
			if len(key) > 3 {
				key = key[:3]
			}
			wd, ok := weekdays[key]
			if !ok {
				return Rule{}, fmt.Errorf("invalid day %q", day)
			}
			rule.Days = append(rule.Days, wd)
		}

	default:
		return Rule{}, fmt.Errorf("unknown kind %q", rc.Kind)
	}

	return rule, nil
}

// Matches reports whether the rule lists appID.
func (r Rule) Matches(appID string) bool {
	for _, pattern := range r.Apps {
		if ok, _ := path.Match(pattern, appID); ok {
			return true
		}
	}
	return false
}

// Active reports whether a schedule rule's window contains t.
// A window spanning midnight belongs to the day it starts on.
func (r Rule) Active(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	day := t.Weekday()

	var inWindow bool
	if r.Start < r.End {
		inWindow = minute >= r.Start && minute < r.End
	} else {
		switch {
		case minute >= r.Start:
			inWindow = true
		case minute < r.End:
			inWindow = true
			day = (day + 6) % 7
		}
	}
	if !inWindow {
		return false
	}

	if len(r.Days) == 0 {
		return true
	}
	for _, d := range r.Days {
		if d == day {
			return true
		}
	}
	return false
}
