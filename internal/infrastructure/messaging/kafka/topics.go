package kafka

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topic constants for service-emitted events. Namespace traffic rides
// per-namespace topics; these are the fixed internal ones.
const (
	// TopicAuditEvents mirrors the structured audit log, best-effort.
	TopicAuditEvents = "wal.audit.events"

	// TopicDeadLetter receives messages the consumer side gave up on.
	// Declared here so both sides agree on the name; the ingestion path
	// never writes to it.
	TopicDeadLetter = "wal.dead_letter"
)

// EventEnvelope standardizes internal event messages on the audit and
// dead-letter topics.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	TraceID       string            `json:"trace_id,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEnvelope wraps payload into an EventEnvelope with a fresh event ID.
func NewEnvelope(eventType, source string, payload interface{}) (*EventEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: "1.0",
		Payload:       raw,
	}, nil
}
