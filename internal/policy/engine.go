// Package policy decides whether an app should be blocked, based on the
// day's usage report and configured rules.
package policy

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/policy/opa"
	"github.com/goodtune/screentime/internal/report"
	"github.com/goodtune/screentime/internal/usage"
)

// Engine handles policy evaluation by gathering facts and calling OPA
type Engine struct {
	opaEngine *opa.Engine
	clock     usage.Clock
	logger    zerolog.Logger

	mu    sync.RWMutex
	rules []Rule
}

// NewEngine creates a new fact-based policy engine
func NewEngine(rules []config.RuleConfig, opaConfig opa.Config, logger zerolog.Logger) (*Engine, error) {
	compiled, err := CompileRules(rules)
	if err != nil {
		return nil, fmt.Errorf("invalid policy rules: %w", err)
	}

	opaEngine, err := opa.NewEngine(opaConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OPA engine: %w", err)
	}

	e := &Engine{
		opaEngine: opaEngine,
		clock:     usage.RealClock{},
		logger:    logger.With().Str("component", "policy").Logger(),
		rules:     compiled,
	}

	e.logger.Info().Int("rules", len(compiled)).Msg("Policy engine initialized")
	return e, nil
}

// SetClock sets the clock used for evaluation
func (e *Engine) SetClock(clock usage.Clock) {
	e.clock = clock
}

// Now returns the evaluation clock's current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Rules returns the active rules in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// SetRules replaces the active rules. The current rules are kept on error.
func (e *Engine) SetRules(rules []config.RuleConfig) error {
	compiled, err := CompileRules(rules)
	if err != nil {
		return fmt.Errorf("invalid policy rules: %w", err)
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()

	e.logger.Info().Int("rules", len(compiled)).Msg("Policy rules updated")
	return nil
}

// Reload reloads the OPA policies
func (e *Engine) Reload() error {
	return e.opaEngine.Reload()
}

// Evaluate decides whether appID is blocked at the clock's current time,
// given rep, the report for the day containing that time.
//
// Evaluation errors are returned together with an allowing decision.
func (e *Engine) Evaluate(ctx context.Context, rep *report.Report, appID string) (Decision, error) {
	now := e.clock.Now()
	if rep != nil && rep.WindowStart.Location() != nil {
		now = now.In(rep.WindowStart.Location())
	}

	decision := Decision{AppID: appID, At: now, RemainingSeconds: -1}

	result, err := e.opaEngine.Evaluate(ctx, e.buildFacts(rep, appID, now))
	if err != nil {
		e.logger.Error().Err(err).Str("app", appID).Msg("OPA evaluation failed, allowing")
		return decision, err
	}

	decision.Blocked = result.Blocked
	decision.Reason = result.Reason
	decision.RuleID = result.RuleID
	decision.RemainingSeconds = result.RemainingSeconds

	metrics.BlockDecisions.WithLabelValues(strconv.FormatBool(decision.Blocked), decision.RuleID).Inc()
	e.logger.Debug().
		Str("app", appID).
		Bool("blocked", decision.Blocked).
		Str("rule", decision.RuleID).
		Int64("remaining_seconds", decision.RemainingSeconds).
		Msg("Policy evaluated")

	return decision, nil
}

// buildFacts gathers, for every rule, whether it applies to appID and the
// usage figures it is judged against.
func (e *Engine) buildFacts(rep *report.Report, appID string, now time.Time) map[string]any {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	facts := make([]any, 0, len(rules))
	for _, rule := range rules {
		fact := map[string]any{
			"id":      rule.ID,
			"kind":    string(rule.Kind),
			"period":  string(rule.Period),
			"applies": rule.Matches(appID),
		}

		switch rule.Kind {
		case KindUsageBudget:
			fact["limit_seconds"] = int64(rule.Limit / time.Second)
			fact["used_seconds"] = int64(usedTime(rep, rule, appID, now) / time.Second)
		case KindLaunchLimit:
			fact["max_launches"] = rule.MaxLaunches
			fact["launches"] = launches(rep, rule, appID, now)
		case KindSchedule:
			fact["in_window"] = rule.Active(now)
		}

		facts = append(facts, fact)
	}

	return map[string]any{
		"app_id": appID,
		"time": map[string]any{
			"day_of_week": int(now.Weekday()),
			"hour":        now.Hour(),
			"minute":      now.Minute(),
		},
		"rules": facts,
	}
}

// usedTime returns the usage a budget rule counts: the app alone, or every
// listed app for a combined budget.
func usedTime(rep *report.Report, rule Rule, appID string, now time.Time) time.Duration {
	if rep == nil {
		return 0
	}

	perApp := rep.Daily.PerApp
	if rule.Period == PeriodHourly {
		perApp = rep.Hourly[now.Hour()].PerApp
	}

	if rule.Mode == ModeSeparate {
		return perApp[appID]
	}

	var total time.Duration
	for id, d := range perApp {
		if rule.Matches(id) {
			total += d
		}
	}
	return total
}

func launches(rep *report.Report, rule Rule, appID string, now time.Time) int {
	if rep == nil {
		return 0
	}
	if rule.Period == PeriodHourly {
		return rep.Hourly[now.Hour()].Launches[appID]
	}
	return rep.Daily.PerAppPickups[appID]
}
