package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by structured settings.
const envPrefix = "WAL"

// newViper builds a pre-configured Viper instance: YAML file type, WAL_ env
// prefix, automatic env binding, and a key replacer that maps "." → "_" so
// that nested keys like "redis.addr" resolve to "WAL_REDIS_ADDR".
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// AutomaticEnv does not pick up nested keys absent from the config
	// file, so bind every field of the Config struct explicitly.
	bindEnvs(v, Config{})

	return v
}

// bindEnvs recursively binds each field of the given struct to an
// environment variable using its "mapstructure" tag.
func bindEnvs(v *viper.Viper, iface interface{}, parts ...string) {
	ift := reflect.TypeOf(iface)
	if ift.Kind() == reflect.Ptr {
		ift = ift.Elem()
	}
	for i := 0; i < ift.NumField(); i++ {
		field := ift.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "," {
			continue
		}
		newParts := append(parts, tag)
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			bindEnvs(v, reflect.New(field.Type).Elem().Interface(), newParts...)
		} else {
			key := strings.Join(newParts, ".")
			_ = v.BindEnv(key)
		}
	}
}

// legacyEnvAliases maps the flat environment surface recognised by earlier
// deployments onto structured config keys. These take effect only when the
// structured WAL_* variable is not also set.
var legacyEnvAliases = map[string]string{
	"DATABASE_HOST":     "database.host",
	"DATABASE_PORT":     "database.port",
	"DATABASE_USER":     "database.user",
	"DATABASE_PASSWORD": "database.password",
	"DATABASE_NAME":     "database.db_name",

	"REDIS_ADDR":     "redis.addr",
	"REDIS_PASSWORD": "redis.password",
	"REDIS_DB":       "redis.db",

	"KAFKA_BROKERS": "kafka.brokers",

	"AWS_REGION":           "sqs.region",
	"SQS_QUEUE_URL_PREFIX": "sqs.queue_url_prefix",
	"SQS_ENDPOINT":         "sqs.endpoint",

	"VALID_API_KEYS": "auth.api_keys",

	"WAL_MAX_MESSAGE_SIZE":         "wal.max_message_size",
	"WAL_MAX_DELAY_SECONDS":        "wal.max_delay_seconds",
	"WAL_LEGACY_PARTITION_MODULUS": "wal.legacy_partition_modulus",
}

// applyLegacyEnv overlays the flat legacy variables onto v. List-valued
// variables (KAFKA_BROKERS, VALID_API_KEYS) are comma-separated.
func applyLegacyEnv(v *viper.Viper) {
	for env, key := range legacyEnvAliases {
		val, ok := os.LookupEnv(env)
		if !ok || val == "" {
			continue
		}
		if v.IsSet(key) && v.GetString(key) != "" {
			continue
		}
		switch key {
		case "kafka.brokers", "auth.api_keys":
			v.Set(key, splitAndTrim(val))
		default:
			v.Set(key, val)
		}
	}

	// WAL_TRANSACTION_TIMEOUT_MS carries a millisecond integer rather than
	// a Go duration string.
	if val, ok := os.LookupEnv("WAL_TRANSACTION_TIMEOUT_MS"); ok && val != "" {
		if ms, err := strconv.ParseInt(val, 10, 64); err == nil && ms > 0 {
			v.Set("wal.transaction_timeout", time.Duration(ms)*time.Millisecond)
		}
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Load reads the YAML file at configPath, merges WAL_* and legacy
// environment overrides, applies defaults for unset fields, and validates
// the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from environment variables, with no
// config file required. This is the preferred loading strategy for
// containerised (12-factor) deployments.
func LoadFromEnv() (*Config, error) {
	v := newViper()
	return unmarshalAndFinalize(v)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	applyLegacyEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Watch monitors configPath for changes and invokes onChange with the newly
// parsed Config whenever the file is modified. Intended for hot-reloading
// non-critical settings (log level, rate limits); callers are responsible
// for applying only the safe subset at runtime.
//
// Watch is non-blocking; it starts a background goroutine managed by viper.
// A changed file that fails to parse or validate does not trigger onChange.
func Watch(configPath string, onChange func(*Config)) {
	v := newViper()
	v.SetConfigFile(configPath)

	// Initial read; callers should have called Load first.
	_ = v.ReadInConfig()

	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			return
		}
		onChange(cfg)
	})
}
