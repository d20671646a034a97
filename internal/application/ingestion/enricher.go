// Package ingestion implements the write-path pipeline: validation and
// enrichment of incoming intents, producer selection with health-aware
// fallback, transaction bracketing of the send, durability resolution, and
// audit emission.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/turtacn/WAL-Service/internal/domain/identity"
	"github.com/turtacn/WAL-Service/internal/domain/namespace"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/WAL-Service/pkg/errors"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// SchemaHardCap is the absolute payload ceiling enforced during schema
// validation, independent of (and in addition to) the namespace limit.
const SchemaHardCap = 1 << 20 // 1 MiB

// apiKeyRe is the accepted API key shape: 16+ characters of the URL-safe
// alphabet.
var apiKeyRe = regexp.MustCompile(`^[A-Za-z0-9\-_]{16,}$`)

// RequestContext carries the per-request identity the HTTP layer extracted.
type RequestContext struct {
	APIKey    string
	RequestID string
	TraceID   string
}

// Enricher validates an intent against namespace policy and produces the
// enriched, identity-bearing message. Each validation step fails with its
// own error kind; no step is skipped.
type Enricher struct {
	registry *namespace.Registry
	log      logging.Logger

	// validKeys is the accepted API key set. Empty admits any well-formed
	// key.
	validKeys map[string]struct{}
}

// NewEnricher constructs an Enricher. validKeys may be empty.
func NewEnricher(registry *namespace.Registry, validKeys []string, log logging.Logger) *Enricher {
	keys := make(map[string]struct{}, len(validKeys))
	for _, k := range validKeys {
		if k != "" {
			keys[k] = struct{}{}
		}
	}
	return &Enricher{
		registry:  registry,
		log:       log.Named("enricher"),
		validKeys: keys,
	}
}

// ValidAPIKeyFormat reports whether key passes the format check alone.
func ValidAPIKeyFormat(key string) bool {
	return apiKeyRe.MatchString(strings.TrimSpace(key))
}

// Enrich runs the validation sequence and constructs the enriched message:
//
//  1. Resolve the namespace policy.
//  2. Check the API key format, then membership when a key list is set.
//  3. Apply the namespace's schema rules, if any.
//  4. Attach identity, timestamps, and correlation.
//
// The returned message is immutable by convention; callers never modify it
// after this point.
func (e *Enricher) Enrich(ctx context.Context, intent *wal.WriteIntent, reqCtx RequestContext) (*wal.EnrichedMessage, *namespace.Namespace, error) {
	policy, err := e.registry.Get(ctx, intent.Namespace)
	if err != nil {
		return nil, nil, err
	}

	key := strings.TrimSpace(reqCtx.APIKey)
	if key == "" {
		return nil, nil, errors.InvalidAPIKey("X-API-Key header is required")
	}
	if !apiKeyRe.MatchString(key) {
		return nil, nil, errors.InvalidAPIKey("API key must be at least 16 characters of [A-Za-z0-9-_]")
	}
	if len(e.validKeys) > 0 {
		if _, ok := e.validKeys[key]; !ok {
			return nil, nil, errors.Forbidden("API key is not authorized")
		}
	}

	if policy.SchemaRules != nil {
		if err := validateSchema(intent.Payload, policy.SchemaRules); err != nil {
			return nil, nil, err
		}
	}

	correlationID := reqCtx.TraceID
	if correlationID == "" {
		correlationID = identity.NewCorrelationID()
	}
	requestID := reqCtx.RequestID
	if requestID == "" {
		requestID = identity.NewRequestID()
	}

	enriched := &wal.EnrichedMessage{
		MessageID:     identity.NewMessageID(),
		CorrelationID: correlationID,
		TraceID:       reqCtx.TraceID,
		RequestID:     requestID,

		Namespace: policy.Name,
		Payload:   intent.Payload,
		Target:    intent.Target,
		Lifecycle: intent.Lifecycle,
		Metadata:  intent.Metadata,
		Priority:  intent.Priority,
		Tags:      intent.Tags,

		APIKey: key,

		Timestamp:    time.Now().UTC(),
		Version:      wal.MessageVersion,
		AttemptCount: 0,
		Status:       wal.StatusPending,
	}

	return enriched, policy, nil
}

// validateSchema enforces the namespace's declarative payload rules: the
// payload must be an object, required keys must be present, declared
// property types must match the observed JSON type, and the canonical size
// must stay under the hard cap.
func validateSchema(payload map[string]interface{}, rules *namespace.SchemaRules) error {
	if payload == nil {
		return errors.SchemaValidation("payload must be a JSON object")
	}

	for _, field := range rules.Required {
		if _, ok := payload[field]; !ok {
			return errors.SchemaValidation("missing required payload field").WithDetail(field)
		}
	}

	for name, rule := range rules.Properties {
		if rule.Type == "" {
			continue
		}
		value, present := payload[name]
		if !present {
			continue
		}
		if observed := observedType(value); observed != rule.Type {
			return errors.SchemaValidation("payload field type mismatch").
				WithDetail(fmt.Sprintf("field=%s expected=%s observed=%s", name, rule.Type, observed))
		}
	}

	size, err := wal.PayloadSize(payload)
	if err != nil {
		return errors.SchemaValidation("payload is not serialisable").WithCause(err)
	}
	if size > SchemaHardCap {
		return errors.SchemaValidation("payload exceeds the 1 MiB hard cap").
			WithDetail(fmt.Sprintf("size=%d", size))
	}

	return nil
}

// observedType classifies a decoded JSON value into the schema-rule type
// vocabulary.
func observedType(v interface{}) string {
	switch v.(type) {
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	case string:
		return "string"
	case float64, int, int64, json.Number:
		return "number"
	case bool:
		return "boolean"
	default:
		return "null"
	}
}
