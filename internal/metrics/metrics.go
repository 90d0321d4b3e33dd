package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Event metrics
	EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_events_processed_total",
			Help: "Total lifecycle events fed to session reconstruction",
		},
		[]string{"kind"},
	)

	EventSourceErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentime_event_source_errors_total",
			Help: "Event source query failures",
		},
	)

	PermissionDenied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentime_permission_denied_total",
			Help: "Reports that fell back to no data because the event source was not permitted",
		},
	)

	// Session metrics
	SessionsReconstructed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentime_sessions_reconstructed_total",
			Help: "Total sessions emitted by reconstruction",
		},
	)

	SessionsDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentime_sessions_discarded_total",
			Help: "Sessions dropped for exceeding the sanity ceiling",
		},
	)

	ReportDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "screentime_report_build_duration_seconds",
			Help:    "Time to build one usage report",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Usage gauges for the current day
	ScreenTimeToday = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "screentime_today_seconds",
			Help: "Total screen time today in seconds",
		},
	)

	AppUsageToday = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "screentime_app_usage_today_seconds",
			Help: "Displayed per-app usage today in seconds",
		},
		[]string{"app"},
	)

	PickupsToday = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "screentime_pickups_today",
			Help: "Device unlocks today",
		},
	)

	// Metadata metrics
	MetadataCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentime_metadata_cache_hits_total",
			Help: "App metadata cache hits",
		},
	)

	MetadataCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentime_metadata_cache_misses_total",
			Help: "App metadata cache misses",
		},
	)

	// Policy metrics
	BlockDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_block_decisions_total",
			Help: "Blocking decisions evaluated",
		},
		[]string{"blocked", "rule"},
	)

	// Storage metrics
	CollectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_collections_total",
			Help: "Usage collections written to storage",
		},
		[]string{"result"},
	)

	RetentionDeletedDays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentime_retention_deleted_days_total",
			Help: "Days of stored usage removed by retention",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		EventsProcessed,
		EventSourceErrors,
		PermissionDenied,
		SessionsReconstructed,
		SessionsDiscarded,
		ReportDuration,
		ScreenTimeToday,
		AppUsageToday,
		PickupsToday,
		MetadataCacheHits,
		MetadataCacheMisses,
		BlockDecisions,
		CollectionsTotal,
		RetentionDeletedDays,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
