// Package audit emits the write-path audit trail: one structured log line
// per write attempt (success or failure), optionally mirrored onto a Kafka
// topic for downstream retention. API keys are masked before any entry
// leaves this package.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/turtacn/WAL-Service/internal/infrastructure/messaging"
	"github.com/turtacn/WAL-Service/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// Entry is one audit record.
type Entry struct {
	RequestID     string    `json:"requestId"`
	Namespace     string    `json:"namespace"`
	MessageID     string    `json:"messageId,omitempty"`
	TransactionID string    `json:"transactionId,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Backend       string    `json:"backend,omitempty"`
	Operation     string    `json:"operation,omitempty"`
	Durability    string    `json:"durability,omitempty"`
	Status        string    `json:"status"` // "success" | "failed"
	ErrorCode     string    `json:"errorCode,omitempty"`
	APIKeyMasked  string    `json:"apiKey,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Emitter writes audit entries. The Kafka mirror is best-effort: a publish
// failure is logged at debug level and never fails the write being audited.
type Emitter struct {
	log      logging.Logger
	producer messaging.Producer // nil disables the mirror
	topic    string
}

// NewEmitter constructs an Emitter. producer may be nil; topic defaults to
// the declared audit topic.
func NewEmitter(producer messaging.Producer, topic string, log logging.Logger) *Emitter {
	if topic == "" {
		topic = kafka.TopicAuditEvents
	}
	return &Emitter{
		log:      log.Named("audit"),
		producer: producer,
		topic:    topic,
	}
}

// MaskKey applies the audit masking rule to an API key.
func MaskKey(key string) string {
	return wal.MaskAPIKey(key)
}

// Emit records entry. The log line always fires; the Kafka mirror fires
// when a producer is configured.
func (e *Emitter) Emit(ctx context.Context, entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	fields := []logging.Field{
		logging.String("request_id", entry.RequestID),
		logging.String("namespace", entry.Namespace),
		logging.String("status", entry.Status),
	}
	if entry.MessageID != "" {
		fields = append(fields, logging.String("message_id", entry.MessageID))
	}
	if entry.TransactionID != "" {
		fields = append(fields, logging.String("transaction_id", entry.TransactionID))
	}
	if entry.Backend != "" {
		fields = append(fields, logging.String("backend", entry.Backend))
	}
	if entry.Operation != "" {
		fields = append(fields, logging.String("operation", entry.Operation))
	}
	if entry.Durability != "" {
		fields = append(fields, logging.String("durability", entry.Durability))
	}
	if entry.ErrorCode != "" {
		fields = append(fields, logging.String("error_code", entry.ErrorCode))
	}
	if entry.APIKeyMasked != "" {
		fields = append(fields, logging.String("api_key", entry.APIKeyMasked))
	}

	if entry.Status == "failed" {
		e.log.Warn("wal write audit", fields...)
	} else {
		e.log.Info("wal write audit", fields...)
	}

	e.mirror(ctx, entry)
}

func (e *Emitter) mirror(ctx context.Context, entry Entry) {
	if e.producer == nil {
		return
	}

	envelope, err := kafka.NewEnvelope("wal.write.audited", "wal-service", entry)
	if err != nil {
		e.log.Debug("audit envelope marshal failed", logging.Err(err))
		return
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		e.log.Debug("audit envelope marshal failed", logging.Err(err))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = e.producer.Send(sendCtx, &wal.ProducerMessage{
		Topic:     e.topic,
		Key:       []byte(entry.Namespace),
		Value:     value,
		Timestamp: entry.Timestamp,
		Headers: map[string]string{
			messaging.HeaderContentType: "application/json",
			messaging.HeaderRequestID:   entry.RequestID,
		},
	})
	if err != nil {
		e.log.Debug("audit mirror publish failed", logging.Err(err))
	}
}
