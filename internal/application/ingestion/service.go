package ingestion

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/turtacn/WAL-Service/internal/application/audit"
	"github.com/turtacn/WAL-Service/internal/application/transaction"
	"github.com/turtacn/WAL-Service/internal/domain/identity"
	"github.com/turtacn/WAL-Service/internal/domain/namespace"
	"github.com/turtacn/WAL-Service/internal/infrastructure/messaging"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/WAL-Service/pkg/errors"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// Service composes the registry, enricher, producer factory, and
// transaction orchestrator into the end-to-end write path.
type Service struct {
	registry     *namespace.Registry
	enricher     *Enricher
	factory      *messaging.Factory
	orchestrator *transaction.Orchestrator
	partitioner  *identity.Partitioner
	audit        *audit.Emitter
	metrics      *prometheus.AppMetrics
	log          logging.Logger

	// legacyModulus pins partition hashing process-wide when set. The
	// per-namespace shard config override takes precedence over it.
	legacyModulus int
}

// Config bundles Service dependencies.
type Config struct {
	Registry      *namespace.Registry
	Enricher      *Enricher
	Factory       *messaging.Factory
	Orchestrator  *transaction.Orchestrator
	Partitioner   *identity.Partitioner
	Audit         *audit.Emitter
	Metrics       *prometheus.AppMetrics
	Logger        logging.Logger
	LegacyModulus int
}

// NewService wires the pipeline.
func NewService(cfg Config) *Service {
	return &Service{
		registry:      cfg.Registry,
		enricher:      cfg.Enricher,
		factory:       cfg.Factory,
		orchestrator:  cfg.Orchestrator,
		partitioner:   cfg.Partitioner,
		audit:         cfg.Audit,
		metrics:       cfg.Metrics,
		log:           cfg.Logger.Named("ingestion"),
		legacyModulus: cfg.LegacyModulus,
	}
}

// DeriveOperation classifies an intent for metrics and audit labels.
func DeriveOperation(intent *wal.WriteIntent) wal.Operation {
	if txns, ok := intent.Payload["transactions"].([]interface{}); ok && len(txns) > 1 {
		return wal.OperationTransaction
	}
	if intent.Lifecycle != nil && intent.Lifecycle.DelaySeconds > 0 {
		return wal.OperationDelayed
	}
	for _, target := range intent.Target {
		if target.Type == wal.TargetCache && len(target.Regions()) > 1 {
			return wal.OperationReplication
		}
	}
	return wal.OperationImmediate
}

// ResolveDurability maps a driver result onto the durability contract.
// Durable is authoritative for PERSISTED; a backend message ID promotes to
// PERSISTED only on a successful result. Scheduled applies when neither
// durable signal is present.
func ResolveDurability(result *wal.ProducerResult) wal.DurabilityStatus {
	if result == nil || !result.Success {
		return wal.DurabilityFailed
	}
	if result.Durable || result.MessageID != "" {
		return wal.DurabilityPersisted
	}
	if result.Scheduled {
		return wal.DurabilityScheduled
	}
	return wal.DurabilityAcknowledged
}

// WriteToLog runs the full ingestion pipeline for one intent. The request
// duration timer fires on every path, success or failure; failures emit a
// failed audit entry with the error's code.
func (s *Service) WriteToLog(ctx context.Context, intent *wal.WriteIntent, reqCtx RequestContext) (resp *wal.WriteToLogResponse, err error) {
	operation := DeriveOperation(intent)
	start := time.Now()
	nsLabel := intent.Namespace

	var enriched *wal.EnrichedMessage
	var transactionID string

	defer func() {
		s.metrics.RequestDuration.WithLabelValues(nsLabel, string(operation)).Observe(time.Since(start).Seconds())
		if err != nil {
			code := errors.GetCode(err)
			s.metrics.WritesTotal.WithLabelValues(nsLabel, "error", code.String()).Inc()
			entry := audit.Entry{
				RequestID:     reqCtx.RequestID,
				Namespace:     nsLabel,
				TransactionID: transactionID,
				Operation:     string(operation),
				Status:        "failed",
				ErrorCode:     code.String(),
				APIKeyMasked:  wal.MaskAPIKey(reqCtx.APIKey),
			}
			if enriched != nil {
				entry.MessageID = enriched.MessageID
				entry.CorrelationID = enriched.CorrelationID
			}
			s.audit.Emit(ctx, entry)
		}
	}()

	// Validation + enrichment (resolves the namespace, checks the key,
	// applies schema rules).
	enriched, policy, err := s.enricher.Enrich(ctx, intent, reqCtx)
	if err != nil {
		return nil, err
	}
	nsLabel = policy.Name

	// Secondary policy check beyond the schema: enabled flag, size, delay
	// bound, target types.
	if err = s.registry.Validate(policy, intent); err != nil {
		return nil, err
	}

	if size, sizeErr := wal.PayloadSize(enriched.Payload); sizeErr == nil {
		s.metrics.PayloadSize.WithLabelValues(policy.Name).Observe(float64(size))
	}

	// Producer selection with health-aware fallback.
	producer, backend, err := s.selectProducer(ctx, policy.Backend)
	if err != nil {
		return nil, err
	}

	// Transaction bracket around the send.
	transactionID = identity.NewTransactionID()
	rec := &transaction.Record{
		TransactionID: transactionID,
		MessageID:     enriched.MessageID,
		Namespace:     policy.Name,
		Backend:       backend,
		StartTime:     time.Now(),
	}
	if err = s.orchestrator.Begin(ctx, rec); err != nil {
		return nil, err
	}

	msg, err := s.buildProducerMessage(enriched, policy, reqCtx)
	if err != nil {
		s.orchestrator.Rollback(ctx, transactionID, transaction.RollbackParams{
			MessageID: enriched.MessageID,
			Reason:    "validation: " + err.Error(),
			Timestamp: time.Now(),
		})
		return nil, err
	}

	sendStart := time.Now()
	result, sendErr := producer.Send(ctx, msg)
	s.metrics.ProducerSendDuration.WithLabelValues(string(backend)).Observe(time.Since(sendStart).Seconds())

	if sendErr != nil || result == nil || !result.Success {
		s.metrics.ProducerSendsTotal.WithLabelValues(string(backend), "error").Inc()

		// A cancelled request context is a timeout, not a backend fault.
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.orchestrator.Rollback(context.Background(), transactionID, transaction.RollbackParams{
				MessageID: enriched.MessageID,
				Reason:    "timeout: " + ctxErr.Error(),
				Timestamp: time.Now(),
			})
			err = errors.Timeout("request deadline exceeded during send").WithCause(ctxErr)
			return nil, err
		}

		reason := "producer send failed"
		if sendErr != nil {
			reason = "producer send failed: " + sendErr.Error()
		} else if result != nil && result.Error != "" {
			reason = "producer send failed: " + result.Error
		}
		s.orchestrator.Rollback(ctx, transactionID, transaction.RollbackParams{
			MessageID: enriched.MessageID,
			Reason:    reason,
			Timestamp: time.Now(),
		})
		err = errors.ProducerUnavailable("backend rejected the write").WithDetail(reason).WithCause(sendErr)
		return nil, err
	}
	s.metrics.ProducerSendsTotal.WithLabelValues(string(backend), "success").Inc()

	durability := ResolveDurability(result)
	if result.Scheduled {
		s.metrics.DelayedScheduledTotal.WithLabelValues(string(backend)).Inc()
	}

	// Commit evidence is the message ID the driver claims to have written;
	// a driver echoing the wrong ID must fail the commit, not slip through.
	commitMessageID := result.MessageID
	if commitMessageID == "" {
		commitMessageID = enriched.MessageID
	}
	if err = s.orchestrator.Commit(ctx, transactionID, transaction.CommitParams{
		MessageID:  commitMessageID,
		SendResult: result,
		Durability: durability,
	}); err != nil {
		return nil, err
	}

	s.metrics.WritesTotal.WithLabelValues(policy.Name, "success", "").Inc()
	s.metrics.ActiveMessages.WithLabelValues(policy.Name).Inc()

	s.audit.Emit(ctx, audit.Entry{
		RequestID:     enriched.RequestID,
		Namespace:     policy.Name,
		MessageID:     enriched.MessageID,
		TransactionID: transactionID,
		CorrelationID: enriched.CorrelationID,
		Backend:       string(backend),
		Operation:     string(operation),
		Durability:    durability.Wire(),
		Status:        "success",
		APIKeyMasked:  enriched.MaskedAPIKey(),
	})

	return s.buildResponse(enriched, policy, transactionID, durability), nil
}

// selectProducer returns the first healthy producer, starting with the
// policy backend and walking the fallback ordering. Probing is explicit
// here rather than hidden in the factory so the audit trail can record
// which backend actually served the write.
func (s *Service) selectProducer(ctx context.Context, primary wal.Backend) (messaging.Producer, wal.Backend, error) {
	candidates := append([]wal.Backend{primary}, messaging.FallbackOrder(primary)...)

	for i, backend := range candidates {
		p, err := s.factory.Get(ctx, backend)
		if err != nil {
			s.log.Warn("producer unavailable",
				logging.String("backend", string(backend)),
				logging.Err(err))
			continue
		}
		if !p.HealthCheck(ctx) {
			s.log.Warn("producer failed health probe", logging.String("backend", string(backend)))
			continue
		}
		if i > 0 {
			s.metrics.ProducerFallbacks.WithLabelValues(string(primary), string(backend)).Inc()
			s.log.Info("falling back to alternate backend",
				logging.String("primary", string(primary)),
				logging.String("fallback", string(backend)))
		}
		return p, backend, nil
	}

	return nil, "", errors.ProducerUnavailable("no healthy producer for backend or its fallbacks").
		WithDetail(string(primary))
}

// buildProducerMessage assembles the driver envelope: serialized enriched
// message, partition assignment, and the full header set.
func (s *Service) buildProducerMessage(enriched *wal.EnrichedMessage, policy *namespace.Namespace, reqCtx RequestContext) (*wal.ProducerMessage, error) {
	value, err := json.Marshal(enriched)
	if err != nil {
		return nil, errors.Validation("enriched message not serialisable").WithCause(err)
	}

	modulus := policy.PartitionCount()
	if policy.ShardConfig.LegacyModulus > 0 {
		modulus = policy.ShardConfig.LegacyModulus
	} else if s.legacyModulus > 0 {
		modulus = s.legacyModulus
	}

	extractKey := ""
	if policy.ShardConfig.CustomLogic != nil {
		extractKey = policy.ShardConfig.CustomLogic.ExtractKey
	}
	partition := s.partitioner.Assign(
		policy.ShardConfig.Strategy,
		policy.Name,
		enriched.MessageID,
		enriched.Payload,
		extractKey,
		modulus,
	)

	headers := map[string]string{
		messaging.HeaderContentType:   "application/json",
		messaging.HeaderMessageID:     enriched.MessageID,
		messaging.HeaderNamespace:     enriched.Namespace,
		messaging.HeaderVersion:       enriched.Version,
		messaging.HeaderRequestID:     enriched.RequestID,
		messaging.HeaderCorrelationID: enriched.CorrelationID,
		messaging.HeaderRetryCount:    strconv.Itoa(enriched.AttemptCount),
		messaging.HeaderAPIKey:        wal.MaskAPIKey(reqCtx.APIKey),
	}
	if rk, ok := enriched.Metadata["routingKey"]; ok && rk != "" {
		headers[messaging.HeaderRoutingKey] = rk
	}
	if ttl, ok := enriched.Metadata["ttl"]; ok && ttl != "" {
		headers[messaging.HeaderTTL] = ttl
	}
	if delay := enriched.Lifecycle.Delay(); delay > 0 {
		headers[messaging.HeaderDelay] = strconv.FormatInt(delay.Milliseconds(), 10)
		headers[messaging.HeaderDelayUntil] = time.Now().Add(delay).UTC().Format(time.RFC3339Nano)
	}

	return &wal.ProducerMessage{
		Topic:     policy.Topic(),
		Key:       []byte(enriched.MessageID),
		Value:     value,
		Partition: partition,
		Headers:   headers,
		Timestamp: enriched.Timestamp,
	}, nil
}

func (s *Service) buildResponse(enriched *wal.EnrichedMessage, policy *namespace.Namespace, transactionID string, durability wal.DurabilityStatus) *wal.WriteToLogResponse {
	hasDelay := enriched.Lifecycle.Delay() > 0
	mode := "immediate"
	if hasDelay {
		mode = "delayed"
	}

	resp := &wal.WriteToLogResponse{
		Durable:       durability.Wire(),
		MessageID:     enriched.MessageID,
		TransactionID: transactionID,
		Message:       "write accepted",
		Timestamp:     time.Now().UTC(),
		Metadata: &wal.ResponseMetadata{
			RequestID:        enriched.RequestID,
			Namespace:        policy.Name,
			DurabilityStatus: durability.Wire(),
			HasDelay:         hasDelay,
			ProcessingMode:   mode,
		},
	}
	if hasDelay {
		estimate := enriched.Lifecycle.Delay().Milliseconds()
		resp.EstimatedProcessingTimeMs = &estimate
	}
	return resp
}
