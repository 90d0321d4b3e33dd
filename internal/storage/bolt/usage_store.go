package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/screentime/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

func (s *usageStore) ReplaceDay(ctx context.Context, summary storage.DailySummary, apps []storage.DailyUsage, sessions []storage.UsageSession) error {
	if err := storage.ValidDate(summary.Date); err != nil {
		return err
	}
	prefix := dayPrefix(summary.Date)

	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		days := tx.Bucket([]byte(bucketDays))
		daily := tx.Bucket([]byte(bucketDaily))
		sess := tx.Bucket([]byte(bucketSessions))
		if days == nil || daily == nil || sess == nil {
			return fmt.Errorf("usage buckets missing")
		}

		if err := deletePrefix(daily, prefix); err != nil {
			return fmt.Errorf("clear daily usage: %w", err)
		}
		if err := deletePrefix(sess, prefix); err != nil {
			return fmt.Errorf("clear sessions: %w", err)
		}

		if err := putValue(days, summary.Date, summary); err != nil {
			return err
		}
		for _, app := range apps {
			app.Date = summary.Date
			if err := putValue(daily, dailyUsageKey(summary.Date, app.AppID), app); err != nil {
				return err
			}
		}
		for _, session := range sessions {
			session.Date = summary.Date
			if err := putValue(sess, sessionKey(session), session); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *usageStore) GetDailySummary(ctx context.Context, date string) (*storage.DailySummary, error) {
	return getBucketValue[storage.DailySummary](ctx, s.db, bucketDays, date)
}

func (s *usageStore) GetDailyUsage(ctx context.Context, date string, appID string) (*storage.DailyUsage, error) {
	return getBucketValue[storage.DailyUsage](ctx, s.db, bucketDaily, dailyUsageKey(date, appID))
}

func (s *usageStore) ListDailyUsage(ctx context.Context, date string) ([]storage.DailyUsage, error) {
	apps, err := listPrefix[storage.DailyUsage](ctx, s.db, bucketDaily, dayPrefix(date))
	if err != nil {
		return nil, err
	}
	storage.SortDailyUsage(apps)
	return apps, nil
}

func (s *usageStore) ListSessions(ctx context.Context, date string) ([]storage.UsageSession, error) {
	// Keys embed the start time, so key order is start order
	return listPrefix[storage.UsageSession](ctx, s.db, bucketSessions, dayPrefix(date))
}

func (s *usageStore) ListDays(ctx context.Context) ([]string, error) {
	days := make([]string, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketDays))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			days = append(days, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return days, nil
}

func (s *usageStore) DeleteDaysBefore(ctx context.Context, cutoffDate string) (int, error) {
	if err := storage.ValidDate(cutoffDate); err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}
	limit := []byte(cutoffDate)

	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := deleteBefore(tx.Bucket([]byte(bucketDays)), limit)
		if err != nil {
			return err
		}
		deleted = n

		if _, err := deleteBefore(tx.Bucket([]byte(bucketDaily)), limit); err != nil {
			return err
		}
		_, err = deleteBefore(tx.Bucket([]byte(bucketSessions)), limit)
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func dayPrefix(date string) []byte {
	return []byte(date + "/")
}

func dailyUsageKey(date, appID string) string {
	return fmt.Sprintf("%s/%s", date, appID)
}

func sessionKey(session storage.UsageSession) string {
	return fmt.Sprintf("%s/%020d/%s", session.Date, session.StartedAt.UnixNano(), session.ID)
}
