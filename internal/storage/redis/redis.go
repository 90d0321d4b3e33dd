package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/storage"
)

// pingTimeout bounds the connection check in Open.
const pingTimeout = 5 * time.Second

// Store implements storage.Store on Redis.
type Store struct {
	client *redis.Client
	usage  *usageStore
}

// Open connects to Redis and verifies the connection. Stored days expire
// one day after they leave the retention window; retentionDays of 0 keeps
// them forever.
func Open(cfg config.RedisConfig, retentionDays int) (*Store, error) {
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	return &Store{
		client: client,
		usage:  newUsageStore(client, RetentionTTL(retentionDays)),
	}, nil
}

// RetentionTTL is the expiry given to a stored day's keys, or 0 for none.
// The extra day leaves deletion to the retention job when it is running.
func RetentionTTL(retentionDays int) time.Duration {
	if retentionDays <= 0 {
		return 0
	}
	return time.Duration(retentionDays+1) * 24 * time.Hour
}

func clientOptions(cfg config.RedisConfig) (*redis.Options, error) {
	opts := &redis.Options{
		Addr:         cfg.Host,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.Port > 0 {
		opts.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	for _, timeout := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"dial_timeout", cfg.DialTimeout, &opts.DialTimeout},
		{"read_timeout", cfg.ReadTimeout, &opts.ReadTimeout},
		{"write_timeout", cfg.WriteTimeout, &opts.WriteTimeout},
	} {
		d, err := time.ParseDuration(timeout.value)
		if err != nil {
			return nil, fmt.Errorf("invalid storage.redis.%s: %w", timeout.name, err)
		}
		*timeout.dst = d
	}

	return opts, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usage
}
