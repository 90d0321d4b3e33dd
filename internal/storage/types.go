package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DateFormat is the layout of stored day keys.
const DateFormat = "2006-01-02"

// sessionNamespace scopes deterministic session IDs.
var sessionNamespace = uuid.MustParse("6f1c2a8e-6a43-4d1f-9a3e-2b7f5c0d9e41")

// UsageSession is a persisted reconstructed session.
type UsageSession struct {
	ID         string    `json:"id"`
	Date       string    `json:"date"`
	AppID      string    `json:"app_id"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	DurationMs int64     `json:"duration_ms"`
}

// NewUsageSession builds a session record. The ID is derived from the date,
// app and start time so re-collecting a day yields the same IDs.
func NewUsageSession(date, appID string, start, end time.Time) UsageSession {
	name := fmt.Sprintf("%s/%s/%d", date, appID, start.UnixMilli())
	return UsageSession{
		ID:         uuid.NewSHA1(sessionNamespace, []byte(name)).String(),
		Date:       date,
		AppID:      appID,
		StartedAt:  start,
		EndedAt:    end,
		DurationMs: end.Sub(start).Milliseconds(),
	}
}

// DailyUsage aggregates one app's usage for a day.
type DailyUsage struct {
	Date     string `json:"date"`
	AppID    string `json:"app_id"`
	TotalMs  int64  `json:"total_ms"`
	Launches int    `json:"launches"`
}

// DailySummary holds the day-wide totals.
type DailySummary struct {
	Date      string    `json:"date"`
	TotalMs   int64     `json:"total_ms"`
	Pickups   int       `json:"pickups"`
	Sessions  int       `json:"sessions"`
	Discarded int       `json:"discarded"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidDate reports whether date is a well-formed day key.
func ValidDate(date string) error {
	if _, err := time.Parse(DateFormat, date); err != nil {
		return fmt.Errorf("invalid date %q: %w", date, err)
	}
	return nil
}

// SortDailyUsage orders apps by TotalMs descending, then by app id.
func SortDailyUsage(apps []DailyUsage) {
	sort.Slice(apps, func(i, j int) bool {
		if apps[i].TotalMs != apps[j].TotalMs {
			return apps[i].TotalMs > apps[j].TotalMs
		}
		return apps[i].AppID < apps[j].AppID
	})
}

// SortSessions orders sessions by start time, then by app id.
func SortSessions(sessions []UsageSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].StartedAt.Before(sessions[j].StartedAt)
		}
		return sessions[i].AppID < sessions[j].AppID
	})
}
