package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "screentime"
	daysKey   = keyPrefix + ":days"
)

type usageStore struct {
	client     *redis.Client
	ttl        time.Duration
	clearDay   *redis.Script
	replaceDay *redis.Script
}

func newUsageStore(client *redis.Client, ttl time.Duration) *usageStore {
	return &usageStore{
		client:     client,
		ttl:        ttl,
		clearDay:   redis.NewScript(clearDayScript),
		replaceDay: redis.NewScript(replaceDayScript),
	}
}

func dayKey(date string) string        { return fmt.Sprintf("%s:day:%s", keyPrefix, date) }
func usageIndexKey(date string) string { return fmt.Sprintf("%s:usage:index:%s", keyPrefix, date) }
func usagePrefix(date string) string   { return fmt.Sprintf("%s:usage:%s:", keyPrefix, date) }
func sessionsKey(date string) string   { return fmt.Sprintf("%s:sessions:%s", keyPrefix, date) }

// ReplaceDay atomically replaces everything stored for summary.Date
func (s *usageStore) ReplaceDay(ctx context.Context, summary storage.DailySummary, apps []storage.DailyUsage, sessions []storage.UsageSession) error {
	date := summary.Date
	score, err := dateScore(date)
	if err != nil {
		return err
	}

	args := make([]interface{}, 0, 10+3*len(apps)+2*len(sessions))
	args = append(args,
		usagePrefix(date),
		date,
		strconv.FormatFloat(score, 'f', 0, 64),
		int64(s.ttl.Seconds()),
		summary.TotalMs,
		summary.Pickups,
		summary.Sessions,
		summary.Discarded,
		summary.UpdatedAt.Format(time.RFC3339Nano),
		len(apps),
	)
	for _, app := range apps {
		args = append(args, app.AppID, app.TotalMs, app.Launches)
	}
	for _, session := range sessions {
		session.Date = date
		data, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		args = append(args, session.StartedAt.UnixMilli(), string(data))
	}

	keys := []string{dayKey(date), usageIndexKey(date), sessionsKey(date), daysKey}
	if err := s.replaceDay.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("replace day %s: %w", date, err)
	}
	return nil
}

// GetDailySummary retrieves the totals for a day
func (s *usageStore) GetDailySummary(ctx context.Context, date string) (*storage.DailySummary, error) {
	data, err := s.client.HGetAll(ctx, dayKey(date)).Result()
	if err != nil {
		return nil, err
	}
	return parseDailySummary(data)
}

// GetDailyUsage retrieves one app's usage for a day
func (s *usageStore) GetDailyUsage(ctx context.Context, date string, appID string) (*storage.DailyUsage, error) {
	data, err := s.client.HGetAll(ctx, usagePrefix(date)+appID).Result()
	if err != nil {
		return nil, err
	}
	return parseDailyUsage(data)
}

// ListDailyUsage returns all app usage entries for a day
func (s *usageStore) ListDailyUsage(ctx context.Context, date string) ([]storage.DailyUsage, error) {
	apps, err := s.client.SMembers(ctx, usageIndexKey(date)).Result()
	if err != nil {
		return nil, err
	}

	if len(apps) == 0 {
		return []storage.DailyUsage{}, nil
	}

	// Use pipeline for batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(apps))
	for i, app := range apps {
		cmds[i] = pipe.HGetAll(ctx, usagePrefix(date)+app)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	usages := make([]storage.DailyUsage, 0, len(apps))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		usage, err := parseDailyUsage(data)
		if err == nil {
			usages = append(usages, *usage)
		}
	}

	storage.SortDailyUsage(usages)
	return usages, nil
}

// ListSessions returns a day's sessions in start order
func (s *usageStore) ListSessions(ctx context.Context, date string) ([]storage.UsageSession, error) {
	members, err := s.client.ZRange(ctx, sessionsKey(date), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	sessions := make([]storage.UsageSession, 0, len(members))
	for _, member := range members {
		var session storage.UsageSession
		if err := json.Unmarshal([]byte(member), &session); err != nil {
			return nil, fmt.Errorf("unmarshal session: %w", err)
		}
		sessions = append(sessions, session)
	}

	storage.SortSessions(sessions)
	return sessions, nil
}

// ListDays returns every stored day in ascending order. Days whose keys
// have expired are dropped from the index.
func (s *usageStore) ListDays(ctx context.Context) ([]string, error) {
	dates, err := s.client.ZRange(ctx, daysKey, 0, -1).Result()
	if err != nil || len(dates) == 0 {
		return dates, err
	}

	pipe := s.client.Pipeline()
	exists := make([]*redis.IntCmd, len(dates))
	for i, date := range dates {
		exists[i] = pipe.Exists(ctx, dayKey(date))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	live := make([]string, 0, len(dates))
	var expired []interface{}
	for i, date := range dates {
		if exists[i].Val() > 0 {
			live = append(live, date)
		} else {
			expired = append(expired, date)
		}
	}
	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, daysKey, expired...).Err(); err != nil {
			return nil, err
		}
	}

	return live, nil
}

// DeleteDaysBefore removes days strictly before cutoffDate.
func (s *usageStore) DeleteDaysBefore(ctx context.Context, cutoffDate string) (int, error) {
	score, err := dateScore(cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}

	dates, err := s.client.ZRangeByScore(ctx, daysKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatFloat(score, 'f', 0, 64),
	}).Result()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, date := range dates {
		existed, err := s.removeDay(ctx, date)
		if err != nil {
			return deleted, err
		}
		if existed {
			deleted++
		}
	}

	return deleted, nil
}

func (s *usageStore) removeDay(ctx context.Context, date string) (bool, error) {
	keys := []string{dayKey(date), usageIndexKey(date), sessionsKey(date), daysKey}
	n, err := s.clearDay.Run(ctx, s.client, keys, usagePrefix(date), date).Int()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
