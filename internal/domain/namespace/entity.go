// Package namespace holds the policy model that governs every write: which
// backend a namespace appends to, its size and delay limits, its shard and
// retry configuration, and its optional schema rules. The ingestion path
// reads this model; it never mutates it.
package namespace

import (
	"time"

	"github.com/turtacn/WAL-Service/internal/domain/identity"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// Name constraints.
const (
	MaxNameLength = 100

	// DefaultMaxMessageSize is the payload cap applied when a namespace
	// does not set one (1 MiB).
	DefaultMaxMessageSize = 1 << 20

	// DefaultMaxDelaySeconds caps delayed delivery at one day by default.
	DefaultMaxDelaySeconds = 86400
)

// Shard strategy names accepted in ShardConfig.Strategy, re-exported from
// the identity package so callers of this package don't need to import it
// separately.
const (
	StrategyHash       = identity.StrategyHash
	StrategyRoundRobin = identity.StrategyRoundRobin
	StrategyRandom     = identity.StrategyRandom
	StrategyCustom     = identity.StrategyCustom
)

// RetryPolicy describes downstream delivery retry pacing. The ingestion
// path echoes it into message headers; honoring it is the consumer's job.
type RetryPolicy struct {
	MaxAttempts       int     `json:"maxAttempts"`
	BackoffStrategy   string  `json:"backoffStrategy"` // "exponential" | "linear" | "constant"
	BackoffMultiplier float64 `json:"backoffMultiplier,omitempty"`
	MaxDelayMs        int64   `json:"maxDelay,omitempty"`
}

// CustomShardLogic configures the "custom" shard strategy.
type CustomShardLogic struct {
	// ExtractKey is a dot-notation path into the payload whose value keys
	// the partition hash.
	ExtractKey string `json:"extractKey"`
}

// ShardConfig controls partition assignment for a namespace.
type ShardConfig struct {
	Strategy       string            `json:"strategy"` // hash | round_robin | random | custom
	PartitionCount int               `json:"partitionCount"`
	CustomLogic    *CustomShardLogic `json:"customLogic,omitempty"`

	// LegacyModulus pins partition hashing to a fixed modulus for
	// namespaces laid out before partitionCount was honored. Zero means
	// PartitionCount is used.
	LegacyModulus int `json:"legacyModulus,omitempty"`
}

// TargetPolicy restricts the delivery targets a namespace accepts.
type TargetPolicy struct {
	Type   wal.TargetType         `json:"type"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// RateLimitPolicy is the namespace-level throttle configuration.
type RateLimitPolicy struct {
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Burst             int     `json:"burst,omitempty"`
}

// PropertyRule constrains one payload property in SchemaRules.
type PropertyRule struct {
	// Type is the expected observed JSON type: "array", "object",
	// "string", "number", or "boolean".
	Type string `json:"type,omitempty"`
}

// SchemaRules is the optional declarative payload shape of a namespace.
type SchemaRules struct {
	Required   []string                `json:"required,omitempty"`
	Properties map[string]PropertyRule `json:"properties,omitempty"`
}

// Namespace is the policy record keyed by its lowercase name. Records are
// created by the admin collaborator, mutated rarely, and cached in-process
// with a TTL on the read path.
type Namespace struct {
	Name      string      `json:"name"`
	Enabled   bool        `json:"enabled"`
	Backend   wal.Backend `json:"backend"`
	TopicName string      `json:"topicName"`

	RetryPolicy     RetryPolicy      `json:"retryPolicy"`
	ShardConfig     ShardConfig      `json:"shardConfig"`
	TargetConfig    *TargetPolicy    `json:"targetConfig,omitempty"`
	RateLimitConfig *RateLimitPolicy `json:"rateLimitConfig,omitempty"`
	SchemaRules     *SchemaRules     `json:"schemaRules,omitempty"`

	MaxMessageSize  int   `json:"maxMessageSize"`
	MaxDelaySeconds int64 `json:"maxDelaySeconds"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EffectiveMaxMessageSize returns the namespace cap, or the default when unset.
func (n *Namespace) EffectiveMaxMessageSize() int {
	if n.MaxMessageSize > 0 {
		return n.MaxMessageSize
	}
	return DefaultMaxMessageSize
}

// EffectiveMaxDelaySeconds returns the namespace delay cap, or the default
// when unset.
func (n *Namespace) EffectiveMaxDelaySeconds() int64 {
	if n.MaxDelaySeconds > 0 {
		return n.MaxDelaySeconds
	}
	return DefaultMaxDelaySeconds
}

// Topic returns the backend topic/stream/queue name, defaulting to the
// namespace name when policy does not set one.
func (n *Namespace) Topic() string {
	if n.TopicName != "" {
		return n.TopicName
	}
	return n.Name
}

// PartitionCount returns the shard partition count, defaulting to 1.
func (n *Namespace) PartitionCount() int {
	if n.ShardConfig.PartitionCount > 0 {
		return n.ShardConfig.PartitionCount
	}
	return 1
}
