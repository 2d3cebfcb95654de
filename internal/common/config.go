package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Queue       QueueConfig     `toml:"queue"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Reconcile   ReconcileConfig `toml:"reconcile"`
	MediaWiki   MediaWikiConfig `toml:"mediawiki"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often idle workers poll for messages
	Concurrency       int    `toml:"concurrency"`        // Number of concurrent worker slots
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "5m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a message can be received before it is dropped
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
	SoftTimeLimit     string `toml:"soft_time_limit"`    // e.g., "30m" - budget for one whole worker invocation
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
	InMemory       bool   `toml:"in_memory"`        // Keep everything in memory (tests, demos)
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// ReconcileConfig controls the periodic status reconciliation sweep
type ReconcileConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron schedule with seconds field
}

// MediaWikiConfig describes how project databases are reached by metric leaves.
// DSNTemplate contains a {project} placeholder, e.g. "user:pass@tcp(db:3306)/{project}"
// for mysql or "./data/wiki/{project}.db" for sqlite.
type MediaWikiConfig struct {
	Driver       string `toml:"driver"` // "mysql" or "sqlite"
	DSNTemplate  string `toml:"dsn_template"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       4,
			VisibilityTimeout: "5m",
			MaxReceive:        3,
			QueueName:         "reportree_jobs",
			SoftTimeLimit:     "30m",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Reconcile: ReconcileConfig{
			Enabled:  true,
			Schedule: "*/30 * * * * *", // Every 30 seconds
		},
		MediaWiki: MediaWikiConfig{
			Driver:       "sqlite",
			DSNTemplate:  "./data/wiki/{project}.db",
			MaxOpenConns: 4,
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by the caller.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("REPORTREE_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("REPORTREE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("REPORTREE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Queue configuration
	if pollInterval := os.Getenv("REPORTREE_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("REPORTREE_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if visibilityTimeout := os.Getenv("REPORTREE_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("REPORTREE_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if mr, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = mr
		}
	}
	if queueName := os.Getenv("REPORTREE_QUEUE_NAME"); queueName != "" {
		config.Queue.QueueName = queueName
	}
	if softTimeLimit := os.Getenv("REPORTREE_QUEUE_SOFT_TIME_LIMIT"); softTimeLimit != "" {
		config.Queue.SoftTimeLimit = softTimeLimit
	}

	// Storage configuration
	if badgerPath := os.Getenv("REPORTREE_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if inMemory := os.Getenv("REPORTREE_BADGER_IN_MEMORY"); inMemory != "" {
		if b, err := strconv.ParseBool(inMemory); err == nil {
			config.Storage.Badger.InMemory = b
		}
	}

	// Logging configuration
	if level := os.Getenv("REPORTREE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("REPORTREE_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Reconcile configuration
	if enabled := os.Getenv("REPORTREE_RECONCILE_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Reconcile.Enabled = b
		}
	}
	if schedule := os.Getenv("REPORTREE_RECONCILE_SCHEDULE"); schedule != "" {
		config.Reconcile.Schedule = schedule
	}

	// MediaWiki configuration
	if driver := os.Getenv("REPORTREE_MEDIAWIKI_DRIVER"); driver != "" {
		config.MediaWiki.Driver = driver
	}
	if dsn := os.Getenv("REPORTREE_MEDIAWIKI_DSN_TEMPLATE"); dsn != "" {
		config.MediaWiki.DSNTemplate = dsn
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks duration strings, the reconcile schedule and the MediaWiki driver
func (c *Config) Validate() error {
	durations := map[string]string{
		"queue.poll_interval":      c.Queue.PollInterval,
		"queue.visibility_timeout": c.Queue.VisibilityTimeout,
		"queue.soft_time_limit":    c.Queue.SoftTimeLimit,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	if c.Reconcile.Enabled {
		if err := ValidateReconcileSchedule(c.Reconcile.Schedule); err != nil {
			return err
		}
	}

	switch c.MediaWiki.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported mediawiki driver: %q", c.MediaWiki.Driver)
	}

	return nil
}

// ValidateReconcileSchedule validates a cron schedule expression with a leading seconds field
func ValidateReconcileSchedule(schedule string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// PollIntervalDuration returns the parsed queue poll interval
func (q QueueConfig) PollIntervalDuration() time.Duration {
	return parseDurationOr(q.PollInterval, time.Second)
}

// VisibilityTimeoutDuration returns the parsed visibility timeout
func (q QueueConfig) VisibilityTimeoutDuration() time.Duration {
	return parseDurationOr(q.VisibilityTimeout, 5*time.Minute)
}

// SoftTimeLimitDuration returns the parsed per-invocation time budget
func (q QueueConfig) SoftTimeLimitDuration() time.Duration {
	return parseDurationOr(q.SoftTimeLimit, 30*time.Minute)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
