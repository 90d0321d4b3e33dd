package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/screentime/internal/storage"
)

// parseDailySummary converts a Redis hash to DailySummary
func parseDailySummary(data map[string]string) (*storage.DailySummary, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	totalMs, err := strconv.ParseInt(data["total_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse total_ms: %w", err)
	}

	counts := make(map[string]int, 3)
	for _, field := range []string{"pickups", "sessions", "discarded"} {
		n, err := strconv.Atoi(data[field])
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", field, err)
		}
		counts[field] = n
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &storage.DailySummary{
		Date:      data["date"],
		TotalMs:   totalMs,
		Pickups:   counts["pickups"],
		Sessions:  counts["sessions"],
		Discarded: counts["discarded"],
		UpdatedAt: updatedAt,
	}, nil
}

// parseDailyUsage converts a Redis hash to DailyUsage
func parseDailyUsage(data map[string]string) (*storage.DailyUsage, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	totalMs, err := strconv.ParseInt(data["total_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse total_ms: %w", err)
	}

	launches, err := strconv.Atoi(data["launches"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse launches: %w", err)
	}

	return &storage.DailyUsage{
		Date:     data["date"],
		AppID:    data["app_id"],
		TotalMs:  totalMs,
		Launches: launches,
	}, nil
}

// dateScore orders day keys numerically in the days sorted set
func dateScore(date string) (float64, error) {
	t, err := time.Parse(storage.DateFormat, date)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return float64(t.Year()*10000 + int(t.Month())*100 + t.Day()), nil
}
