package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultMaxMessageSize, cfg.WAL.MaxMessageSize)
	assert.Equal(t, int64(DefaultMaxDelaySeconds), cfg.WAL.MaxDelaySeconds)
	assert.Equal(t, DefaultTransactionTimeout, cfg.WAL.TransactionTimeout)
	assert.Equal(t, DefaultNamespaceCacheTTL, cfg.WAL.NamespaceCacheTTL)
	assert.Equal(t, []string{DefaultKafkaBroker}, cfg.Kafka.Brokers)
	assert.Equal(t, DefaultRedisAddr, cfg.Redis.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromEnv_StructuredOverrides(t *testing.T) {
	t.Setenv("WAL_SERVER_PORT", "9090")
	t.Setenv("WAL_LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromEnv_LegacyAliases(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092")
	t.Setenv("VALID_API_KEYS", "key-one-0123456789,key-two-0123456789")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("SQS_QUEUE_URL_PREFIX", "https://sqs.eu-west-1.amazonaws.com/1/")
	t.Setenv("WAL_MAX_MESSAGE_SIZE", "2048")
	t.Setenv("WAL_TRANSACTION_TIMEOUT_MS", "45000")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"key-one-0123456789", "key-two-0123456789"}, cfg.Auth.APIKeys)
	assert.Equal(t, "eu-west-1", cfg.SQS.Region)
	assert.Equal(t, "https://sqs.eu-west-1.amazonaws.com/1/", cfg.SQS.QueueURLPrefix)
	assert.Equal(t, 2048, cfg.WAL.MaxMessageSize)
	assert.Equal(t, 45*time.Second, cfg.WAL.TransactionTimeout)
}

func TestLoad_FromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 8081
wal:
  max_delay_seconds: 3600
rate_limit:
  enabled: true
  requests_per_second: 50
log:
  level: warn
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, int64(3600), cfg.WAL.MaxDelaySeconds)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, float64(50), cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, "warn", cfg.Log.Level)
	// Unset sections still receive defaults.
	assert.Equal(t, DefaultMaxMessageSize, cfg.WAL.MaxMessageSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Server.Port = -1
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.WAL.TransactionTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerSecond = 0
	// ApplyDefaults already filled RequestsPerSecond; force the invalid state.
	cfg.RateLimit.RequestsPerSecond = -5
	assert.Error(t, cfg.Validate())
}

func TestDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "db.internal", Port: 5433, User: "wal", Password: "pw",
		DBName: "walsvc", SSLMode: "require",
	}
	assert.Equal(t, "postgres://wal:pw@db.internal:5433/walsvc?sslmode=require", cfg.DSN())
}
