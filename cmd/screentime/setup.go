package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/events"
	"github.com/goodtune/screentime/internal/metadata"
	"github.com/goodtune/screentime/internal/report"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/storage/bolt"
	"github.com/goodtune/screentime/internal/storage/redis"
	"github.com/goodtune/screentime/internal/usage"
)

// openStorage opens the configured backend. Redis keys expire once a day
// leaves the retention window.
func openStorage(cfg config.StorageConfig, retentionDays int) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis, retentionDays)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// newResolver loads the app catalogue behind an LRU cache.
func newResolver(cfg config.MetadataConfig, logger zerolog.Logger) (*metadata.CachedResolver, error) {
	catalogue, err := metadata.LoadCatalogue(cfg.Catalogue)
	if err != nil {
		return nil, fmt.Errorf("failed to load app catalogue: %w", err)
	}
	return metadata.NewCachedResolver(catalogue, cfg.CacheSize, logger)
}

// newBuilder wires the report pipeline from configuration. A nil clock
// uses wall time.
func newBuilder(cfg *config.Config, source events.Source, resolver metadata.Resolver, clock usage.Clock, logger zerolog.Logger) (*report.Builder, error) {
	loc, err := cfg.Usage.Location()
	if err != nil {
		return nil, err
	}
	minDisplay, maxSession, _ := cfg.Usage.Durations()

	return report.NewBuilder(source, resolver, report.Config{
		Options: usage.Options{
			Location:   loc,
			MaxSession: maxSession,
			Bucketing:  usage.Bucketing(cfg.Usage.Bucketing),
		},
		Filter: usage.NewFilter(cfg.Usage.ExcludedApps, minDisplay),
		Clock:  clock,
	}, logger), nil
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// quietLogger is used by one-shot commands so log lines do not interleave
// with their output.
func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}
