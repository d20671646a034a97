// Package config defines all configuration structures for the WAL ingestion
// service. No I/O or parsing logic lives here — only plain data types and
// validation.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	MaxBodySize       int64         `mapstructure:"max_body_size"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`

	// RequestTimeout is the implicit deadline stamped onto every request
	// context by the server middleware.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters for the namespace
// policy store.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationPath   string        `mapstructure:"migration_path"`
}

// DSN renders the pgx connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// RedisConfig holds Redis connection parameters shared by the stream
// producer and any cache usage.
type RedisConfig struct {
	Mode            string        `mapstructure:"mode"` // standalone | sentinel | cluster
	Addr            string        `mapstructure:"addr"`
	MasterName      string        `mapstructure:"master_name"`
	SentinelAddrs   []string      `mapstructure:"sentinel_addrs"`
	ClusterAddrs    []string      `mapstructure:"cluster_addrs"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// KafkaConfig holds Kafka producer parameters.
type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	Acks            string        `mapstructure:"acks"` // "none" | "one" | "all"
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	BatchSize       int           `mapstructure:"batch_size"`
	BatchTimeout    time.Duration `mapstructure:"batch_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxMessageBytes int           `mapstructure:"max_message_bytes"`
	Compression     string        `mapstructure:"compression"`
}

// SQSConfig holds AWS SQS producer parameters.
type SQSConfig struct {
	Region         string `mapstructure:"region"`
	QueueURLPrefix string `mapstructure:"queue_url_prefix"`
	Endpoint       string `mapstructure:"endpoint"` // non-empty for localstack/custom endpoints
}

// AuthConfig holds API-key authentication parameters.
type AuthConfig struct {
	// APIKeys is the accepted key list. Empty admits any well-formed key
	// (development mode); non-empty enforces membership.
	APIKeys []string `mapstructure:"api_keys"`
}

// RateLimitConfig holds the per-key token bucket parameters consulted before
// validation.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// WALConfig holds the ingestion-pipeline tunables.
type WALConfig struct {
	// MaxMessageSize is the service-wide payload cap setting in bytes. It is
	// loaded and validated here but not passed to the namespace registry: a
	// namespace without its own cap uses namespace.DefaultMaxMessageSize.
	MaxMessageSize int `mapstructure:"max_message_size"`

	// MaxDelaySeconds is the service-wide delay cap setting. Like
	// MaxMessageSize it is not passed to the registry: a namespace without
	// its own cap uses namespace.DefaultMaxDelaySeconds.
	MaxDelaySeconds int64 `mapstructure:"max_delay_seconds"`

	// TransactionTimeout bounds the life of an in-flight transaction before
	// the sweep reclaims it.
	TransactionTimeout time.Duration `mapstructure:"transaction_timeout"`

	// NamespaceCacheTTL bounds staleness of cached namespace policy.
	NamespaceCacheTTL time.Duration `mapstructure:"namespace_cache_ttl"`

	// HealthCheckInterval paces the producer factory's background sampler.
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`

	// LegacyPartitionModulus, when > 0, pins partition hashing to a fixed
	// modulus for namespaces that were laid out under the historical
	// behaviour. Zero means: use each namespace's partitionCount.
	LegacyPartitionModulus int `mapstructure:"legacy_partition_modulus"`
}

// AuditConfig controls audit emission.
type AuditConfig struct {
	// Topic is the Kafka topic audit events are mirrored to, best-effort.
	// Empty disables the mirror; the structured audit log always fires.
	Topic string `mapstructure:"topic"`
}

// MetricsConfig controls the Prometheus exposition.
type MetricsConfig struct {
	Enabled              bool `mapstructure:"enabled"`
	EnableProcessMetrics bool `mapstructure:"enable_process_metrics"`
	EnableGoMetrics      bool `mapstructure:"enable_go_metrics"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration of the WAL ingestion service.
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Database  DatabaseConfig    `mapstructure:"database"`
	Redis     RedisConfig       `mapstructure:"redis"`
	Kafka     KafkaConfig       `mapstructure:"kafka"`
	SQS       SQSConfig         `mapstructure:"sqs"`
	Auth      AuthConfig        `mapstructure:"auth"`
	RateLimit RateLimitConfig   `mapstructure:"rate_limit"`
	WAL       WALConfig         `mapstructure:"wal"`
	Audit     AuditConfig       `mapstructure:"audit"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
	Log       logging.LogConfig `mapstructure:"log"`
}

// Validate checks invariants that would make the service misbehave at
// runtime. ApplyDefaults must run first so defaulted fields are populated.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.WAL.MaxMessageSize <= 0 {
		return fmt.Errorf("wal.max_message_size must be positive")
	}
	if c.WAL.MaxDelaySeconds < 0 {
		return fmt.Errorf("wal.max_delay_seconds must not be negative")
	}
	if c.WAL.TransactionTimeout <= 0 {
		return fmt.Errorf("wal.transaction_timeout must be positive")
	}
	if c.WAL.NamespaceCacheTTL <= 0 {
		return fmt.Errorf("wal.namespace_cache_ttl must be positive")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive when enabled")
	}
	return nil
}
