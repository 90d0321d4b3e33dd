package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Usage() UsageStore
}

// UsageStore persists collected usage, one calendar day at a time.
//
// Dates are "2006-01-02" strings in the configured report time zone.
type UsageStore interface {
	// ReplaceDay replaces everything stored for summary.Date.
	ReplaceDay(ctx context.Context, summary DailySummary, apps []DailyUsage, sessions []UsageSession) error
	GetDailySummary(ctx context.Context, date string) (*DailySummary, error)
	GetDailyUsage(ctx context.Context, date string, appID string) (*DailyUsage, error)
	// ListDailyUsage returns the day's apps ordered by TotalMs descending.
	ListDailyUsage(ctx context.Context, date string) ([]DailyUsage, error)
	// ListSessions returns the day's sessions ordered by StartedAt.
	ListSessions(ctx context.Context, date string) ([]UsageSession, error)
	// ListDays returns every stored date in ascending order.
	ListDays(ctx context.Context) ([]string, error)
	// DeleteDaysBefore removes all days strictly before cutoffDate and
	// returns how many were removed.
	DeleteDaysBefore(ctx context.Context, cutoffDate string) (int, error)
}
