// Package messaging defines the uniform Producer contract over the log
// backends (Redis Streams, Kafka, SQS) and the factory that instantiates,
// caches, health-samples, and orders them for fallback.
package messaging

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// Message header keys carried to every backend. Drivers map them onto the
// backend's native header/attribute mechanism.
const (
	HeaderContentType   = "content-type"
	HeaderMessageID     = "message-id"
	HeaderNamespace     = "namespace"
	HeaderVersion       = "version"
	HeaderRequestID     = "request-id"
	HeaderRoutingKey    = "routing-key"
	HeaderCorrelationID = "correlation-id"
	HeaderRetryCount    = "retry-count"
	HeaderDelayUntil    = "delay-until"
	HeaderTTL           = "ttl"
	HeaderDelay         = "delay"
	HeaderAPIKey        = "api-key"
)

// Producer is the capability that appends a message to one backend kind.
// Implementations are safe for concurrent use.
type Producer interface {
	// Send appends a single message. A non-nil result with Success=false
	// means the backend rejected the append; err covers transport-level
	// failures. Callers treat both as a failed send.
	Send(ctx context.Context, msg *wal.ProducerMessage) (*wal.ProducerResult, error)

	// SendBatch appends multiple messages, returning one result per input
	// in order. Partial failure is expressed per-result.
	SendBatch(ctx context.Context, msgs []*wal.ProducerMessage) ([]*wal.ProducerResult, error)

	// HealthCheck performs a cheap liveness probe against the backend.
	HealthCheck(ctx context.Context) bool

	// HealthStatus returns a fresh health sample with details. It may be
	// more expensive than HealthCheck; the factory calls it on its probe
	// interval and caches the entry.
	HealthStatus(ctx context.Context) wal.ProducerHealthEntry

	// Connect establishes the backend connection eagerly. Drivers also
	// lazy-connect on first Send, so calling Connect is optional.
	Connect(ctx context.Context) error

	// Disconnect releases the backend connection. The producer must not be
	// used afterwards.
	Disconnect(ctx context.Context) error

	// Backend identifies the backend kind this producer serves.
	Backend() wal.Backend

	// Metrics returns a snapshot of the producer's send counters.
	Metrics() ProducerStats
}

// ProducerStats is a point-in-time snapshot of driver counters.
type ProducerStats struct {
	Sent          int64     `json:"sent"`
	Failed        int64     `json:"failed"`
	BytesSent     int64     `json:"bytesSent"`
	LastSentAt    time.Time `json:"lastSentAt"`
	LastLatencyMs int64     `json:"lastLatencyMs"`
}

// Stats is the shared atomic counter block embedded by the drivers.
type Stats struct {
	sent      atomic.Int64
	failed    atomic.Int64
	bytes     atomic.Int64
	lastSent  atomic.Int64 // unix nanos
	latencyMs atomic.Int64
}

// RecordSend notes a successful send of n bytes taking latency.
func (s *Stats) RecordSend(n int, latency time.Duration) {
	s.sent.Add(1)
	s.bytes.Add(int64(n))
	s.lastSent.Store(time.Now().UnixNano())
	s.latencyMs.Store(latency.Milliseconds())
}

// RecordFailure notes a failed send.
func (s *Stats) RecordFailure() {
	s.failed.Add(1)
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() ProducerStats {
	out := ProducerStats{
		Sent:          s.sent.Load(),
		Failed:        s.failed.Load(),
		BytesSent:     s.bytes.Load(),
		LastLatencyMs: s.latencyMs.Load(),
	}
	if ns := s.lastSent.Load(); ns > 0 {
		out.LastSentAt = time.Unix(0, ns)
	}
	return out
}
