// Package transaction coordinates the lifecycle of in-flight write
// attempts: begin before the driver call, commit or rollback after, and a
// timeout sweep that reclaims orphans. The state is a process-local
// coordination structure, not durability of record — the log backend is the
// durable artifact, so nothing here is persisted and nothing needs recovery
// after a crash: the backend either contains the append or it does not.
package transaction

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/WAL-Service/pkg/errors"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// Defaults.
const (
	// DefaultTimeout is the maximum age of an active transaction before the
	// sweep reclaims it.
	DefaultTimeout = 30 * time.Second

	// OrphanReason is the rollback reason stamped by the timeout sweep.
	OrphanReason = "Transaction timeout - orphaned cleanup"

	// DegradedThreshold is the active-set size at which health degrades.
	DegradedThreshold = 1000
)

// State of a transaction. STARTED is the only non-terminal state.
type State string

const (
	StateStarted    State = "STARTED"
	StateCommitted  State = "COMMITTED"
	StateRolledBack State = "ROLLED_BACK"
)

// Record is one in-flight write attempt.
type Record struct {
	TransactionID string      `json:"transactionId"`
	MessageID     string      `json:"messageId"`
	Namespace     string      `json:"namespace"`
	Backend       wal.Backend `json:"backend"`
	StartTime     time.Time   `json:"startTime"`
}

// CommitParams carries the evidence a commit must present.
type CommitParams struct {
	MessageID  string
	SendResult *wal.ProducerResult
	Durability wal.DurabilityStatus
}

// RollbackParams describes a rollback request.
type RollbackParams struct {
	MessageID string
	Reason    string
	Timestamp time.Time
}

// CompensationHook runs driver-specific cleanup during rollback. It is
// best-effort: a hook failure is logged and never prevents removal from the
// active set.
type CompensationHook func(ctx context.Context, rec *Record, params RollbackParams) error

// Orchestrator owns the active transaction set and the timeout sweep.
type Orchestrator struct {
	timeout time.Duration
	log     logging.Logger
	metrics *prometheus.AppMetrics
	hook    CompensationHook

	mu     sync.Mutex
	active map[string]*Record

	stopOnce sync.Once
	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs an Orchestrator. A non-positive timeout falls back to
// DefaultTimeout; hook may be nil.
func New(timeout time.Duration, hook CompensationHook, metrics *prometheus.AppMetrics, log logging.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Orchestrator{
		timeout: timeout,
		log:     log.Named("txn"),
		metrics: metrics,
		hook:    hook,
		active:  make(map[string]*Record),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Begin inserts rec into the active set. A duplicate transaction ID fails;
// the ID generator makes collisions a programming error, not a race to
// tolerate.
func (o *Orchestrator) Begin(_ context.Context, rec *Record) error {
	if rec == nil || rec.TransactionID == "" {
		return errors.Validation("transaction record requires an ID")
	}
	if rec.StartTime.IsZero() {
		rec.StartTime = time.Now()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, dup := o.active[rec.TransactionID]; dup {
		return errors.Internal("duplicate transaction ID").WithDetail(rec.TransactionID)
	}
	o.active[rec.TransactionID] = rec
	if o.metrics != nil {
		o.metrics.ActiveTransactions.WithLabelValues().Set(float64(len(o.active)))
	}
	return nil
}

// take claims the record for txID, removing it from the active set. The
// second return is false when the transaction already reached a terminal
// state (the caller lost the commit/rollback race and must no-op).
func (o *Orchestrator) take(txID string) (*Record, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.active[txID]
	if !ok {
		return nil, false
	}
	delete(o.active, txID)
	if o.metrics != nil {
		o.metrics.ActiveTransactions.WithLabelValues().Set(float64(len(o.active)))
	}
	return rec, true
}

// Commit validates the evidence and terminates the transaction. Assertion
// failures auto-invoke rollback with reason "Commit failed: <detail>" and
// surface the error. A commit for an inactive transaction is a no-op with a
// warning: the concurrent rollback (or sweep) that got there first wins.
func (o *Orchestrator) Commit(ctx context.Context, txID string, params CommitParams) error {
	o.mu.Lock()
	rec, ok := o.active[txID]
	o.mu.Unlock()
	if !ok {
		o.log.Warn("commit for inactive transaction", logging.String("transaction_id", txID))
		return nil
	}

	var detail string
	switch {
	case params.MessageID != rec.MessageID:
		detail = fmt.Sprintf("message ID mismatch: got %s want %s", params.MessageID, rec.MessageID)
	case params.SendResult == nil:
		detail = "missing send result"
	case !params.Durability.Valid():
		detail = fmt.Sprintf("invalid durability status %q", params.Durability)
	}
	if detail != "" {
		o.Rollback(ctx, txID, RollbackParams{
			MessageID: rec.MessageID,
			Reason:    "Commit failed: " + detail,
			Timestamp: time.Now(),
		})
		return errors.Internal("transaction commit validation failed").WithDetail(detail)
	}

	if _, won := o.take(txID); !won {
		o.log.Warn("commit lost race to rollback", logging.String("transaction_id", txID))
		return nil
	}

	if o.metrics != nil {
		o.metrics.TransactionsTotal.WithLabelValues("committed", string(params.Durability), "").Inc()
	}
	o.log.Debug("transaction committed",
		logging.String("transaction_id", txID),
		logging.String("message_id", rec.MessageID),
		logging.String("durability", string(params.Durability)))
	return nil
}

// Rollback terminates the transaction, running the compensation hook
// best-effort. Rolling back an inactive transaction is a no-op with a
// warning (first terminal transition wins).
func (o *Orchestrator) Rollback(ctx context.Context, txID string, params RollbackParams) {
	rec, ok := o.take(txID)
	if !ok {
		o.log.Warn("rollback for inactive transaction", logging.String("transaction_id", txID))
		return
	}

	if o.hook != nil {
		if err := o.hook(ctx, rec, params); err != nil {
			o.log.Warn("compensation hook failed",
				logging.String("transaction_id", txID),
				logging.Err(err))
		}
	}

	category := CategorizeReason(params.Reason)
	if o.metrics != nil {
		o.metrics.TransactionsTotal.WithLabelValues("rolled_back", "", category).Inc()
	}
	o.log.Info("transaction rolled back",
		logging.String("transaction_id", txID),
		logging.String("message_id", rec.MessageID),
		logging.String("namespace", rec.Namespace),
		logging.String("reason", params.Reason),
		logging.String("category", category))
}

// CategorizeReason buckets free-form rollback reasons for metrics labels.
func CategorizeReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "timeout"):
		return "timeout"
	case strings.Contains(lower, "producer"):
		return "producer_error"
	case strings.Contains(lower, "validation"):
		return "validation_error"
	case strings.Contains(lower, "connection"):
		return "connection_error"
	default:
		return "unknown"
	}
}

// ActiveCount returns the size of the active set.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// IsActive reports whether txID has not yet reached a terminal state.
func (o *Orchestrator) IsActive(txID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[txID]
	return ok
}

// Health reports healthy while the active set is below the backpressure
// threshold, degraded otherwise.
func (o *Orchestrator) Health() wal.ProducerHealth {
	if o.ActiveCount() < DegradedThreshold {
		return wal.HealthHealthy
	}
	return wal.HealthDegraded
}

// Snapshot returns copies of the active records, for the status route.
func (o *Orchestrator) Snapshot() []Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Record, 0, len(o.active))
	for _, rec := range o.active {
		out = append(out, *rec)
	}
	return out
}

// Start launches the timeout sweep at half the transaction timeout.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	o.started = true
	o.mu.Unlock()
	go func() {
		defer close(o.doneCh)
		ticker := time.NewTicker(o.timeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.sweep()
			case <-o.stopCh:
				return
			}
		}
	}()
}

// sweep rolls back every transaction older than the timeout. Expired IDs
// are snapshotted first so rollbacks never run under the set lock, and one
// entry's failure cannot disturb the rest.
func (o *Orchestrator) sweep() {
	cutoff := time.Now().Add(-o.timeout)

	o.mu.Lock()
	expired := make([]string, 0)
	for id, rec := range o.active {
		if rec.StartTime.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	o.mu.Unlock()

	for _, id := range expired {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.log.Error("sweep rollback panicked",
						logging.String("transaction_id", id),
						logging.Any("panic", r))
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			o.Rollback(ctx, id, RollbackParams{Reason: OrphanReason, Timestamp: time.Now()})
		}()
	}
	if len(expired) > 0 {
		o.log.Info("sweep reclaimed orphaned transactions", logging.Int("count", len(expired)))
	}
}

// Stop halts the sweep. Active records are left in place; Shutdown of the
// process discards them with the rest of the heap.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopCh)
		o.mu.Lock()
		started := o.started
		o.mu.Unlock()
		if started {
			<-o.doneCh
		}
	})
}
