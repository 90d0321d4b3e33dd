package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/screentime/internal/api"
	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/events"
	"github.com/goodtune/screentime/internal/metadata"
	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/policy"
	"github.com/goodtune/screentime/internal/policy/opa"
	"github.com/goodtune/screentime/internal/systemd"
	"github.com/goodtune/screentime/internal/tracker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the screentime daemon",
	Long: `Start the screentime daemon: periodic usage collection into storage,
retention, the HTTP API and the metrics endpoint.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting screentime")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage, cfg.Usage.RetentionDays)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Str("redis_host", cfg.Storage.Redis.Host).
		Msg("Storage initialized")

	// Event source and app metadata
	source := events.NewFileSource(cfg.Events.Dir, logger)
	if !source.HasPermission() {
		logger.Warn().Str("dir", cfg.Events.Dir).Msg("Event directory not readable, reports will have no data until it appears")
	}

	resolver, err := newResolver(cfg.Metadata, logger)
	if err != nil {
		return err
	}

	builder, err := newBuilder(cfg, source, resolver, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize report builder: %w", err)
	}

	// Initialize Policy Engine
	policyEngine, err := policy.NewEngine(cfg.Policy.Rules, opa.Config{PolicyDir: cfg.Policy.PolicyDir}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Policy Engine: %w", err)
	}

	// Initialize Usage Tracker
	_, _, collectInterval := cfg.Usage.Durations()
	usageTracker := tracker.NewTracker(builder, store.Usage(), tracker.Config{Interval: collectInterval}, logger)
	usageTracker.Start()

	// Initialize Retention Scheduler
	retention, err := tracker.NewRetentionScheduler(
		store.Usage(),
		cfg.Usage.RetentionTime,
		cfg.Usage.RetentionDays,
		builder.Location(),
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize Retention Scheduler: %w", err)
	}
	retention.Start()

	// Re-collect when event logs change
	var watcher *events.Watcher
	stopForward := make(chan struct{})
	if cfg.Events.Watch {
		watcher, err = events.NewWatcher(cfg.Events.Dir, events.DefaultDebounce, logger)
		if err != nil {
			logger.Warn().Err(err).Str("dir", cfg.Events.Dir).Msg("Event watcher disabled")
		} else {
			watcher.Start()
			go forwardChanges(watcher, usageTracker, stopForward, logger)
		}
	}

	// Initialize API Server
	apiServer := api.NewServer(api.Config{
		ListenAddr: net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.APIPort)),
	}, builder, store.Usage(), policyEngine, logger)
	if sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Initialize Metrics Server
	metricsServer := metrics.NewServer(net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.MetricsPort)), logger)
	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics server: %w", err)
	}

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}
	stopWatchdog := startWatchdog(logger)

	logger.Info().Msg("screentime started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			break
		}
		logger.Info().Msg("SIGHUP received, reloading policies and app catalogue...")
		reload(policyEngine, resolver, logger)
		usageTracker.Trigger()
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}
	close(stopWatchdog)
	close(stopForward)

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping event watcher")
		}
	}
	retention.Stop()
	usageTracker.Stop()

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}
	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics server")
	}

	logger.Info().Msg("screentime stopped")
	return nil
}

// reload recompiles the Rego policies and re-reads rules and the app
// catalogue from the configuration file. Failures keep the running state.
// Other settings take effect on restart.
func reload(policyEngine *policy.Engine, resolver *metadata.CachedResolver, logger zerolog.Logger) {
	if err := systemd.NotifyReloading(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd reloading notification")
	}
	defer func() {
		if err := systemd.NotifyReady(); err != nil {
			logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
		}
	}()

	if err := policyEngine.Reload(); err != nil {
		logger.Error().Err(err).Msg("Failed to reload policies")
	}

	newCfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reload configuration, keeping current rules")
		return
	}
	if err := policyEngine.SetRules(newCfg.Policy.Rules); err != nil {
		logger.Error().Err(err).Msg("Failed to apply reloaded rules")
	}

	catalogue, err := metadata.LoadCatalogue(newCfg.Metadata.Catalogue)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reload app catalogue")
		return
	}
	if err := resolver.Replace(catalogue); err != nil {
		logger.Error().Err(err).Msg("Failed to replace app catalogue")
		return
	}

	logger.Info().Msg("Reload complete")
}

// forwardChanges triggers a collection for every debounced change in the
// event directory until stop is closed.
func forwardChanges(w *events.Watcher, t *tracker.Tracker, stop <-chan struct{}, logger zerolog.Logger) {
	for {
		select {
		case <-stop:
			return
		case file, ok := <-w.Changes:
			if !ok {
				return
			}
			logger.Debug().Str("file", file).Msg("Event log changed, collecting")
			t.Trigger()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("Event watcher error")
		}
	}
}

// startWatchdog pings the systemd watchdog until the returned channel is
// closed. It does nothing when the watchdog is disabled.
func startWatchdog(logger zerolog.Logger) chan struct{} {
	stop := make(chan struct{})
	interval := systemd.WatchdogInterval()
	if interval == 0 {
		return stop
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := systemd.NotifyWatchdog(); err != nil {
					logger.Warn().Err(err).Msg("Failed to send systemd watchdog notification")
				}
			case <-stop:
				return
			}
		}
	}()
	return stop
}
