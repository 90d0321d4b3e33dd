package storage

import (
	"os"
	"time"
)

// EnsureDir ensures a directory exists with default permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// DateOf returns the day key for t in t's location.
func DateOf(t time.Time) string {
	return t.Format(DateFormat)
}

// CutoffDate returns the day key retentionDays before now. Days strictly
// before it are eligible for deletion.
func CutoffDate(now time.Time, retentionDays int) string {
	return DateOf(now.AddDate(0, 0, -retentionDays))
}
