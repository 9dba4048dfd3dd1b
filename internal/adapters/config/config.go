package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"costtrend/pkg/errors"
)

type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Cache         CacheConfig
	Jobs          JobsConfig
	Upstream      UpstreamConfig
	Trend         TrendConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"costtrend"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
}

type HTTPConfig struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8090"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"10"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST" required:"true"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"billing"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" required:"true"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig is optional; job lifecycle events are not published when Brokers is empty
type KafkaConfig struct {
	Brokers  []string `envconfig:"KAFKA_BROKERS"`
	JobTopic string   `envconfig:"KAFKA_JOB_TOPIC" default:"costtrend.jobs"`
}

type CacheConfig struct {
	// Backend is "redis" or "memory"
	Backend   string        `envconfig:"CACHE_BACKEND" default:"redis"`
	TTL       time.Duration `envconfig:"CACHE_TTL" default:"1h"`
	KeyPrefix string        `envconfig:"CACHE_KEY_PREFIX" default:"costtrend:"`
}

// JobsConfig sizes the worker pool and bounds job lifetime
type JobsConfig struct {
	// Store is "redis" or "memory"
	Store        string        `envconfig:"JOBS_STORE" default:"memory"`
	Workers      int           `envconfig:"JOBS_WORKERS" default:"4"`
	QueueSize    int           `envconfig:"JOBS_QUEUE_SIZE" default:"256"`
	Timeout      time.Duration `envconfig:"JOBS_TIMEOUT" default:"5m"`
	Retention    time.Duration `envconfig:"JOBS_RETENTION" default:"1h"`
	ReapInterval time.Duration `envconfig:"JOBS_REAP_INTERVAL" default:"1m"`
	// StaleAfter fails unfinished jobs older than this. Zero derives it from the pool size.
	StaleAfter time.Duration `envconfig:"JOBS_STALE_AFTER"`
}

// StaleThreshold is how long a job may stay unfinished before it is presumed orphaned.
// A full queue drains in ceil(QueueSize/Workers) timeouts before the last job runs for
// one more, and a minute of slack covers clock skew between instances.
func (c JobsConfig) StaleThreshold() time.Duration {
	if c.StaleAfter > 0 {
		return c.StaleAfter
	}
	workers := c.Workers
	if workers <= 0 {
		workers = 1
	}
	waves := (c.QueueSize + workers - 1) / workers
	return time.Duration(waves+1)*c.Timeout + time.Minute
}

// UpstreamConfig tunes calls to the consumption provider
type UpstreamConfig struct {
	PageSize          int           `envconfig:"UPSTREAM_PAGE_SIZE" default:"5000"`
	RequestsPerMinute int           `envconfig:"UPSTREAM_REQUESTS_PER_MINUTE" default:"120"`
	MaxRetries        int           `envconfig:"UPSTREAM_MAX_RETRIES" default:"4"`
	MinBackoff        time.Duration `envconfig:"UPSTREAM_MIN_BACKOFF" default:"500ms"`
	MaxBackoff        time.Duration `envconfig:"UPSTREAM_MAX_BACKOFF" default:"30s"`
	BreakerFailures   uint32        `envconfig:"UPSTREAM_BREAKER_FAILURES" default:"5"`
	BreakerCooldown   time.Duration `envconfig:"UPSTREAM_BREAKER_COOLDOWN" default:"30s"`
}

type TrendConfig struct {
	// StableEpsilon is the growth rate band (percent) reported as "stable"
	StableEpsilon   float64 `envconfig:"TREND_STABLE_EPSILON" default:"1.0"`
	MaxProjected    int     `envconfig:"TREND_MAX_PROJECTED_PERIODS" default:"1000"`
	DefaultCurrency string  `envconfig:"TREND_DEFAULT_CURRENCY" default:"USD"`
	DriftThreshold  float64 `envconfig:"TREND_DRIFT_THRESHOLD" default:"10.0"`
	MaxWindowMonths int     `envconfig:"TREND_MAX_WINDOW_MONTHS" default:"24"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	var errs errors.MultiError
	if c.Jobs.Workers <= 0 {
		errs.Add(errors.NewValidationError("JOBS_WORKERS", "must be positive", c.Jobs.Workers))
	}
	if c.Jobs.QueueSize <= 0 {
		errs.Add(errors.NewValidationError("JOBS_QUEUE_SIZE", "must be positive", c.Jobs.QueueSize))
	}
	if c.Jobs.Timeout <= 0 {
		errs.Add(errors.NewValidationError("JOBS_TIMEOUT", "must be positive", c.Jobs.Timeout))
	}
	if c.Cache.Backend != "redis" && c.Cache.Backend != "memory" {
		errs.Add(errors.NewValidationError("CACHE_BACKEND", "must be redis or memory", c.Cache.Backend))
	}
	if c.Jobs.Store != "redis" && c.Jobs.Store != "memory" {
		errs.Add(errors.NewValidationError("JOBS_STORE", "must be redis or memory", c.Jobs.Store))
	}
	if c.Upstream.MinBackoff > c.Upstream.MaxBackoff {
		errs.Add(errors.NewValidationError("UPSTREAM_MIN_BACKOFF", "must not exceed UPSTREAM_MAX_BACKOFF", c.Upstream.MinBackoff))
	}
	if c.Trend.MaxProjected <= 0 {
		errs.Add(errors.NewValidationError("TREND_MAX_PROJECTED_PERIODS", "must be positive", c.Trend.MaxProjected))
	}
	return errs.ToError()
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	return &cfg, nil
}
