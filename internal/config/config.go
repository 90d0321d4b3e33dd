package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variable overrides.
const EnvPrefix = "SCREENTIME"

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Events   EventsConfig   `mapstructure:"events"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Usage    UsageConfig    `mapstructure:"usage"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// EventsConfig defines where lifecycle events are read from
type EventsConfig struct {
	Dir   string `mapstructure:"dir"`   // Directory of *.jsonl event logs
	Watch bool   `mapstructure:"watch"` // Re-collect when event logs change
}

// MetadataConfig defines app metadata lookup
type MetadataConfig struct {
	Catalogue string `mapstructure:"catalogue"` // YAML catalogue path, empty for built-in
	CacheSize int    `mapstructure:"cache_size"`
}

// UsageConfig defines reconstruction, display and collection settings
type UsageConfig struct {
	Timezone           string   `mapstructure:"timezone"`
	MinDisplayDuration string   `mapstructure:"min_display_duration"`
	MaxSessionDuration string   `mapstructure:"max_session_duration"`
	ExcludedApps       []string `mapstructure:"excluded_apps"`
	Bucketing          string   `mapstructure:"bucketing"` // "start" or "overlap"
	CollectInterval    string   `mapstructure:"collect_interval"`
	RetentionDays      int      `mapstructure:"retention_days"`
	RetentionTime      string   `mapstructure:"retention_time"` // HH:MM
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Path  string      `mapstructure:"path"`
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"` // 0 when Host already carries the port
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// PolicyConfig defines blocking rules and their evaluation
type PolicyConfig struct {
	PolicyDir string       `mapstructure:"policy_dir"` // Overrides the built-in Rego policy
	Rules     []RuleConfig `mapstructure:"rules"`
}

// RuleConfig is one blocking rule as written in the config file
type RuleConfig struct {
	ID          string   `mapstructure:"id"`
	Kind        string   `mapstructure:"kind"` // usage_budget, launch_limit, schedule
	Disabled    bool     `mapstructure:"disabled"`
	Apps        []string `mapstructure:"apps"`
	Limit       string   `mapstructure:"limit"`  // usage_budget
	Mode        string   `mapstructure:"mode"`   // usage_budget: separate or combined
	Period      string   `mapstructure:"period"` // daily or hourly
	MaxLaunches int      `mapstructure:"max_launches"`
	Days        []string `mapstructure:"days"`  // schedule: mon..sun, empty for every day
	Start       string   `mapstructure:"start"` // schedule: HH:MM
	End         string   `mapstructure:"end"`   // schedule: HH:MM
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	cfg, _, err := load(configPath)
	return cfg, err
}

// Inspect loads configuration like Load and additionally returns the keys
// in the config file that no setting recognizes, and the effective settings.
func Inspect(configPath string) (*Config, []string, map[string]any, error) {
	cfg, v, err := load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	known := viper.New()
	setDefaults(known)
	knownKeys := make(map[string]bool)
	for _, k := range known.AllKeys() {
		knownKeys[k] = true
	}
	knownKeys["policy.rules"] = true

	var unknown []string
	for _, k := range v.AllKeys() {
		if !knownKeys[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)

	return cfg, unknown, v.AllSettings(), nil
}

// DefaultSettings returns every setting at its default value, keyed like
// Inspect's settings.
func DefaultSettings() map[string]any {
	v := viper.New()
	setDefaults(v)
	return v.AllSettings()
}

func load(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Config file not found, use defaults and environment variables
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, v, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)

	// Event source defaults
	v.SetDefault("events.dir", "/var/lib/screentime/events")
	v.SetDefault("events.watch", true)

	// Metadata defaults
	v.SetDefault("metadata.catalogue", "")
	v.SetDefault("metadata.cache_size", 512)

	// Usage defaults
	v.SetDefault("usage.timezone", "Local")
	v.SetDefault("usage.min_display_duration", "60s")
	v.SetDefault("usage.max_session_duration", "24h")
	v.SetDefault("usage.excluded_apps", []string{
		"com.android.systemui",
		"com.google.android.apps.nexuslauncher",
		"com.sec.android.app.launcher",
		"com.miui.home",
		"com.android.launcher3",
	})
	v.SetDefault("usage.bucketing", "start")
	v.SetDefault("usage.collect_interval", "1m")
	v.SetDefault("usage.retention_days", 90)
	v.SetDefault("usage.retention_time", "03:00")

	// Storage defaults
	v.SetDefault("storage.path", "/var/lib/screentime/screentime.bolt")
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Policy defaults
	v.SetDefault("policy.policy_dir", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if err := validPort("API", cfg.Server.APIPort); err != nil {
		return err
	}
	if err := validPort("metrics", cfg.Server.MetricsPort); err != nil {
		return err
	}

	if cfg.Metadata.CacheSize <= 0 {
		return fmt.Errorf("metadata cache_size must be positive: %d", cfg.Metadata.CacheSize)
	}

	if _, err := cfg.Usage.Location(); err != nil {
		return err
	}
	for name, value := range map[string]string{
		"min_display_duration": cfg.Usage.MinDisplayDuration,
		"max_session_duration": cfg.Usage.MaxSessionDuration,
		"collect_interval":     cfg.Usage.CollectInterval,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid usage.%s: %w", name, err)
		}
		if d < 0 || (d == 0 && name != "min_display_duration") {
			return fmt.Errorf("usage.%s must be positive: %s", name, value)
		}
	}
	switch cfg.Usage.Bucketing {
	case "start", "overlap":
	default:
		return fmt.Errorf("invalid usage.bucketing: %q (must be start or overlap)", cfg.Usage.Bucketing)
	}
	if cfg.Usage.RetentionDays < 0 {
		return fmt.Errorf("usage.retention_days must not be negative: %d", cfg.Usage.RetentionDays)
	}
	if _, _, err := ParseClock(cfg.Usage.RetentionTime); err != nil {
		return fmt.Errorf("invalid usage.retention_time: %w", err)
	}

	// Validate storage
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}
	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required")
		}
	default:
		return fmt.Errorf("invalid storage type: %q (must be bolt or redis)", cfg.Storage.Type)
	}

	// Validate rule shapes; semantics are checked when rules are compiled
	seen := make(map[string]bool)
	for i, rule := range cfg.Policy.Rules {
		if rule.ID == "" {
			return fmt.Errorf("policy rule %d has no id", i)
		}
		if seen[rule.ID] {
			return fmt.Errorf("duplicate policy rule id: %s", rule.ID)
		}
		seen[rule.ID] = true
	}

	return nil
}

func validPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid %s port: %d", name, port)
	}
	return nil
}

// Location resolves the configured time zone.
func (u UsageConfig) Location() (*time.Location, error) {
	switch u.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid usage.timezone: %w", err)
	}
	return loc, nil
}

// Durations returns the parsed display threshold, session ceiling and
// collection interval. The config must have been validated.
func (u UsageConfig) Durations() (minDisplay, maxSession, collect time.Duration) {
	minDisplay, _ = time.ParseDuration(u.MinDisplayDuration)
	maxSession, _ = time.ParseDuration(u.MaxSessionDuration)
	collect, _ = time.ParseDuration(u.CollectInterval)
	return minDisplay, maxSession, collect
}

// ParseClock parses an "HH:MM" time of day.
func ParseClock(value string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	return t.Hour(), t.Minute(), nil
}
