// Package config provides configuration loading, defaults, and validation
// for the WAL ingestion service.
package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerHost      = "0.0.0.0"
	DefaultServerPort      = 8080
	DefaultRequestTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxBodySize     = 2 << 20 // 2 MiB: 1 MiB payload cap plus envelope

	DefaultDBHost    = "localhost"
	DefaultDBPort    = 5432
	DefaultDBName    = "wal"
	DefaultDBUser    = "wal"
	DefaultDBSSLMode = "disable"

	DefaultRedisAddr           = "localhost:6379"
	DefaultRedisCommandTimeout = 5 * time.Second

	DefaultKafkaBroker         = "localhost:9092"
	DefaultKafkaRequestTimeout = 30 * time.Second

	DefaultSQSRegion = "us-east-1"

	DefaultMaxMessageSize      = 1 << 20 // 1 MiB
	DefaultMaxDelaySeconds     = 86400
	DefaultTransactionTimeout  = 30 * time.Second
	DefaultNamespaceCacheTTL   = 60 * time.Second
	DefaultHealthCheckInterval = 30 * time.Second

	DefaultRateLimitRPS   = 100.0
	DefaultRateLimitBurst = 200

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// ApplyDefaults fills every zero-value field in cfg with the service
// default. Fields already set by the caller are left unchanged so that
// explicit configuration always wins. Must be called after unmarshalling
// and before Validate().
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultServerHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}

	// ── Database ──────────────────────────────────────────────────────────
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.User == "" {
		cfg.Database.User = DefaultDBUser
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = DefaultDBSSLMode
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 25
	}
	if cfg.Database.MigrationPath == "" {
		cfg.Database.MigrationPath = "migrations"
	}

	// ── Redis ─────────────────────────────────────────────────────────────
	if cfg.Redis.Mode == "" {
		cfg.Redis.Mode = "standalone"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = 3 * time.Second
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = 3 * time.Second
	}
	if cfg.Redis.CommandTimeout == 0 {
		cfg.Redis.CommandTimeout = DefaultRedisCommandTimeout
	}
	if cfg.Redis.MaxRetries == 0 {
		cfg.Redis.MaxRetries = 3
	}

	// ── Kafka ─────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.Acks == "" {
		cfg.Kafka.Acks = "all"
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = 3
	}
	if cfg.Kafka.RetryBackoff == 0 {
		cfg.Kafka.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.Kafka.BatchSize == 0 {
		cfg.Kafka.BatchSize = 100
	}
	if cfg.Kafka.BatchTimeout == 0 {
		cfg.Kafka.BatchTimeout = time.Second
	}
	if cfg.Kafka.RequestTimeout == 0 {
		cfg.Kafka.RequestTimeout = DefaultKafkaRequestTimeout
	}
	if cfg.Kafka.MaxMessageBytes == 0 {
		cfg.Kafka.MaxMessageBytes = 1 << 20
	}

	// ── SQS ───────────────────────────────────────────────────────────────
	if cfg.SQS.Region == "" {
		cfg.SQS.Region = DefaultSQSRegion
	}

	// ── Rate limit ────────────────────────────────────────────────────────
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = DefaultRateLimitRPS
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = DefaultRateLimitBurst
	}

	// ── WAL pipeline ──────────────────────────────────────────────────────
	if cfg.WAL.MaxMessageSize == 0 {
		cfg.WAL.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.WAL.MaxDelaySeconds == 0 {
		cfg.WAL.MaxDelaySeconds = DefaultMaxDelaySeconds
	}
	if cfg.WAL.TransactionTimeout == 0 {
		cfg.WAL.TransactionTimeout = DefaultTransactionTimeout
	}
	if cfg.WAL.NamespaceCacheTTL == 0 {
		cfg.WAL.NamespaceCacheTTL = DefaultNamespaceCacheTTL
	}
	if cfg.WAL.HealthCheckInterval == 0 {
		cfg.WAL.HealthCheckInterval = DefaultHealthCheckInterval
	}

	// ── Logging ───────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

// NewDefaultConfig returns a Config populated entirely with defaults,
// without reading a file or the environment.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
