package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/events"
	"github.com/goodtune/screentime/internal/policy"
	"github.com/goodtune/screentime/internal/policy/opa"
	"github.com/goodtune/screentime/internal/report"
)

// checkTimeLayout is the format of the --at flag.
const checkTimeLayout = "2006-01-02 15:04"

var checkAt string

var checkCmd = &cobra.Command{
	Use:   "check [flags] APP",
	Short: "Check whether an app would be blocked",
	Long:  `Evaluate the configured blocking rules for an app against the day's usage.`,
	Example: `  screentime check com.instagram.android
  screentime check --at "2024-03-01 21:30" com.zhiliaoapp.musically`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkAt, "at", "", `Evaluate at this local time ("2006-01-02 15:04"), defaults to now`)
	rootCmd.AddCommand(checkCmd)
}

// fixedClock reports a set time.
type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

func runCheck(cmd *cobra.Command, args []string) error {
	appID := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	loc, err := cfg.Usage.Location()
	if err != nil {
		return err
	}
	at := time.Now().In(loc)
	if checkAt != "" {
		at, err = time.ParseInLocation(checkTimeLayout, checkAt, loc)
		if err != nil {
			return fmt.Errorf("invalid --at %q: expected %q", checkAt, checkTimeLayout)
		}
	}
	clock := fixedClock{now: at}

	logger := quietLogger()

	resolver, err := newResolver(cfg.Metadata, logger)
	if err != nil {
		return err
	}
	builder, err := newBuilder(cfg, events.NewFileSource(cfg.Events.Dir, logger), resolver, clock, logger)
	if err != nil {
		return err
	}

	policyEngine, err := policy.NewEngine(cfg.Policy.Rules, opa.Config{PolicyDir: cfg.Policy.PolicyDir}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Policy Engine: %w", err)
	}
	policyEngine.SetClock(clock)

	rep, err := builder.Build(cmd.Context(), at)
	if err != nil && !errors.Is(err, report.ErrPermissionDenied) {
		return err
	}

	decision, err := policyEngine.Evaluate(cmd.Context(), rep, appID)
	if err != nil {
		return err
	}

	printDecision(rep, decision)
	return nil
}

// printDecision displays a decision with colors
func printDecision(rep *report.Report, decision policy.Decision) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("  Blocking Check")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("App:        %s\n", decision.AppID)
	fmt.Printf("At:         %s\n", decision.At.Format(checkTimeLayout+" MST"))
	if rep.Status == report.StatusNoData {
		yellow.Println("Usage:      no data (usage access not available)")
	} else if app, ok := rep.App(decision.AppID); ok {
		fmt.Printf("Used today: %s in %d opens\n", formatDuration(time.Duration(app.DurationSeconds*float64(time.Second))), app.Pickups)
	}
	fmt.Println()

	cyan.Print("Decision:   ")
	if decision.Blocked {
		red.Println("BLOCK")
		fmt.Println("            → App will be blocked")
	} else {
		green.Println("ALLOW")
		fmt.Println("            → App may be used")
	}

	if decision.Reason != "" {
		fmt.Printf("Reason:     %s\n", decision.Reason)
	}
	if decision.RuleID != "" {
		fmt.Printf("Matched Rule: %s\n", decision.RuleID)
	}
	if !decision.Blocked && decision.RemainingSeconds >= 0 {
		yellow.Printf("Remaining:  %s\n", formatDuration(time.Duration(decision.RemainingSeconds)*time.Second))
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
