// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. RELCRAWL_CRAWLER_MAX_DEPTH.
const EnvPrefix = "RELCRAWL"

// Worker supervision modes.
const (
	WorkersGoroutine = "goroutine"
	WorkersProcess   = "process"
)

// Queue and store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config captures every knob of a crawl run.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Robots   RobotsConfig   `mapstructure:"robots"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Store    StoreConfig    `mapstructure:"store"`
	Report   ReportConfig   `mapstructure:"report"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// CrawlerConfig governs one traversal.
type CrawlerConfig struct {
	Seeds              []string `mapstructure:"seeds"`
	Keyword            string   `mapstructure:"keyword"`
	UserAgent          string   `mapstructure:"user_agent"`
	MaxDepth           int      `mapstructure:"max_depth"`
	MaxHorizon         int      `mapstructure:"max_horizon"`
	ContextWindow      int      `mapstructure:"context_window"`
	MinContextWords    int      `mapstructure:"min_context_words"`
	ScoringConcurrency int      `mapstructure:"scoring_concurrency"`
}

// HTTPConfig configures page fetches.
type HTTPConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
}

// RobotsConfig configures the robots gate.
type RobotsConfig struct {
	Respect      bool          `mapstructure:"respect"`
	Timeout      time.Duration `mapstructure:"timeout"`
	DefaultDelay time.Duration `mapstructure:"default_delay"`
}

// DispatchConfig controls worker supervision.
type DispatchConfig struct {
	Workers         string        `mapstructure:"workers"`
	StartupGrace    time.Duration `mapstructure:"startup_grace"`
	RevokePoll      time.Duration `mapstructure:"revoke_poll"`
	OutcomePoll     time.Duration `mapstructure:"outcome_poll"`
	StopTimeout     time.Duration `mapstructure:"stop_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// QueueConfig selects the task broker.
type QueueConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig describes the Redis broker.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// StoreConfig selects the result store.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	Table    string         `mapstructure:"table"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig configures the file-backed store.
type SQLiteConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// PostgresConfig configures the pgx pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ReportConfig sets where exports and the progress log go.
type ReportConfig struct {
	// Destination is a local path or a gs://bucket/object URI.
	Destination  string `mapstructure:"destination"`
	Format       string `mapstructure:"format"`
	ProgressPath string `mapstructure:"progress_path"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool     `mapstructure:"development"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := New()
	return LoadFrom(v, path)
}

// New returns a Viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadFrom reads path (if set) into v, then unmarshals and validates.
// Callers bind CLI flags onto v before calling it.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.seeds", []string{})
	v.SetDefault("crawler.keyword", "")
	v.SetDefault("crawler.user_agent", "MyCrawler")
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.max_horizon", 100)
	v.SetDefault("crawler.context_window", 100)
	v.SetDefault("crawler.min_context_words", 4)
	v.SetDefault("crawler.scoring_concurrency", 10)
	v.SetDefault("http.timeout", 10*time.Second)
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("robots.respect", true)
	v.SetDefault("robots.timeout", 5*time.Second)
	v.SetDefault("robots.default_delay", time.Second)
	v.SetDefault("dispatch.workers", WorkersGoroutine)
	v.SetDefault("dispatch.startup_grace", 5*time.Second)
	v.SetDefault("dispatch.revoke_poll", 500*time.Millisecond)
	v.SetDefault("dispatch.outcome_poll", time.Second)
	v.SetDefault("dispatch.stop_timeout", 10*time.Second)
	v.SetDefault("dispatch.shutdown_timeout", 30*time.Second)
	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("queue.redis.addr", "localhost:6379")
	v.SetDefault("queue.redis.password", "")
	v.SetDefault("queue.redis.db", 0)
	v.SetDefault("queue.redis.prefix", "relcrawl")
	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("store.table", "crawl_results")
	v.SetDefault("store.sqlite.path", "results.sqlite3")
	v.SetDefault("store.sqlite.busy_timeout", 5*time.Second)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime", time.Hour)
	v.SetDefault("report.destination", "crawled_report.csv")
	v.SetDefault("report.format", "")
	v.SetDefault("report.progress_path", "crawling_progress.txt")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{})
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits. Seeds and the
// keyword are checked by the crawl command, since the worker and report
// commands do not need them.
func (c Config) Validate() error {
	var errs []error
	if c.Crawler.MaxDepth < 0 {
		errs = append(errs, errors.New("crawler.max_depth must be >= 0"))
	}
	if c.Crawler.MaxHorizon < 0 {
		errs = append(errs, errors.New("crawler.max_horizon must be >= 0"))
	}
	if c.Crawler.ContextWindow <= 0 {
		errs = append(errs, errors.New("crawler.context_window must be > 0"))
	}
	if c.Crawler.ScoringConcurrency <= 0 {
		errs = append(errs, errors.New("crawler.scoring_concurrency must be > 0"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be > 0"))
	}
	switch c.Dispatch.Workers {
	case WorkersGoroutine:
	case WorkersProcess:
		if c.Queue.Backend != BackendRedis {
			errs = append(errs, errors.New("dispatch.workers=process requires queue.backend=redis"))
		}
		if c.Store.Backend == BackendMemory {
			errs = append(errs, errors.New("dispatch.workers=process requires a durable store.backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("dispatch.workers must be %q or %q, got %q", WorkersGoroutine, WorkersProcess, c.Dispatch.Workers))
	}
	switch c.Queue.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Queue.Redis.Addr == "" {
			errs = append(errs, errors.New("queue.redis.addr must be set for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue.backend %q", c.Queue.Backend))
	}
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, errors.New("store.postgres.dsn must be set for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	if c.Report.Format != "" && c.Report.Format != "csv" && c.Report.Format != "markdown" {
		errs = append(errs, fmt.Errorf("report.format must be csv or markdown, got %q", c.Report.Format))
	}
	return errors.Join(errs...)
}

// ValidateRun checks the fields a crawl run needs on top of Validate.
func (c Config) ValidateRun() error {
	if len(c.Crawler.Seeds) == 0 {
		return errors.New("at least one seed url is required")
	}
	if strings.TrimSpace(c.Crawler.Keyword) == "" {
		return errors.New("crawler.keyword must be set")
	}
	return nil
}
