package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/events"
	"github.com/goodtune/screentime/internal/report"
)

var (
	reportDate   string
	reportJSON   bool
	reportEvents string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the usage report for a day",
	Long:  `Reconstruct sessions from the event logs and print the day's screen time, pickups and per-app usage.`,
	Example: `  screentime report
  screentime report --date 2024-03-01 --json
  screentime report --events ./testdata/events`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportDate, "date", "today", "Day to report (YYYY-MM-DD or today)")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Print the report as JSON")
	reportCmd.Flags().StringVar(&reportEvents, "events", "", "Event log directory (overrides events.dir)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if reportEvents != "" {
		cfg.Events.Dir = reportEvents
	}

	logger := quietLogger()

	resolver, err := newResolver(cfg.Metadata, logger)
	if err != nil {
		return err
	}
	builder, err := newBuilder(cfg, events.NewFileSource(cfg.Events.Dir, logger), resolver, nil, logger)
	if err != nil {
		return err
	}

	day := builder.Now()
	if reportDate != "today" {
		day, err = time.ParseInLocation(report.DateFormat, reportDate, builder.Location())
		if err != nil {
			return fmt.Errorf("invalid date %q: expected YYYY-MM-DD or today", reportDate)
		}
	}

	rep, err := builder.Build(cmd.Context(), day)
	if err != nil && !errors.Is(err, report.ErrPermissionDenied) {
		return err
	}

	if reportJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(rep); encErr != nil {
			return encErr
		}
		return err
	}

	printReport(os.Stdout, rep, cfg.Events.Dir)
	return err
}

// printReport renders a report as a coloured table.
func printReport(w io.Writer, rep *report.Report, eventDir string) {
	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed, color.Bold)

	fmt.Fprintln(w)
	cyan.Fprintf(w, "━━━ Screen time for %s ━━━\n", rep.Date)
	fmt.Fprintln(w)

	if rep.Status == report.StatusNoData {
		red.Fprintf(w, "No data: usage access is not available (%s)\n\n", eventDir)
		return
	}

	fmt.Fprintf(w, "Total:      %s\n", formatDuration(rep.Daily.TotalDuration))
	fmt.Fprintf(w, "Pickups:    %d\n", rep.Daily.PickupCount)
	fmt.Fprintf(w, "Sessions:   %d\n", rep.Sessions)
	if rep.Discarded > 0 {
		yellow.Fprintf(w, "Discarded:  %d (longer than the session ceiling)\n", rep.Discarded)
	}
	fmt.Fprintln(w)

	if len(rep.Apps) == 0 {
		yellow.Fprintln(w, "No app usage above the display threshold")
		fmt.Fprintln(w)
		return
	}

	longest := rep.Apps[0].DurationSeconds
	cyan.Fprintf(w, "%-32s %10s %8s\n", "APP", "TIME", "OPENS")
	for _, app := range rep.Apps {
		label := app.Label
		if len(label) > 32 {
			label = label[:31] + "…"
		}
		d := time.Duration(app.DurationSeconds * float64(time.Second))
		fmt.Fprintf(w, "%-32s %10s %8d  ", label, formatDuration(d), app.Pickups)
		appColor(app.Color).Fprintln(w, bar(app.DurationSeconds, longest, 20))
	}
	fmt.Fprintln(w)

	cyan.Fprintln(w, "Hourly")
	var peak time.Duration
	for _, b := range rep.Filtered.Hourly {
		peak = max(peak, b.TotalDuration)
	}
	for _, b := range rep.Filtered.Hourly {
		if b.TotalDuration == 0 {
			continue
		}
		fmt.Fprintf(w, "  %02d:00 %8s  %s\n", b.Hour, formatDuration(b.TotalDuration), bar(b.TotalDuration.Seconds(), peak.Seconds(), 30))
	}
	fmt.Fprintln(w)
}

func bar(value, maxValue float64, width int) string {
	if maxValue <= 0 {
		return ""
	}
	n := int(value / maxValue * float64(width))
	if n == 0 && value > 0 {
		n = 1
	}
	return strings.Repeat("█", n)
}

// appColor maps catalogue colour names onto terminal colours.
func appColor(name string) *color.Color {
	switch strings.ToLower(name) {
	case "red":
		return color.New(color.FgRed)
	case "green":
		return color.New(color.FgGreen)
	case "yellow":
		return color.New(color.FgYellow)
	case "blue":
		return color.New(color.FgBlue)
	case "magenta", "purple":
		return color.New(color.FgMagenta)
	case "cyan":
		return color.New(color.FgCyan)
	case "grey", "gray":
		return color.New(color.FgHiBlack)
	default:
		return color.New(color.FgWhite)
	}
}

// formatDuration renders d as "1h 05m", "12m 30s" or "45s".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
