package transaction

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

func newTestOrchestrator(timeout time.Duration, hook CompensationHook) *Orchestrator {
	return New(timeout, hook, nil, logging.NewNopLogger())
}

func record(txID, msgID string) *Record {
	return &Record{
		TransactionID: txID,
		MessageID:     msgID,
		Namespace:     "orders",
		Backend:       wal.BackendRedis,
		StartTime:     time.Now(),
	}
}

func successResult(msgID string) *wal.ProducerResult {
	return &wal.ProducerResult{MessageID: msgID, Success: true, Durable: true, Timestamp: time.Now()}
}

func TestBeginCommit_RemovesFromActiveSet(t *testing.T) {
	o := newTestOrchestrator(time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, o.Begin(ctx, record("txn-1", "msg-1")))
	assert.Equal(t, 1, o.ActiveCount())

	err := o.Commit(ctx, "txn-1", CommitParams{
		MessageID:  "msg-1",
		SendResult: successResult("backend-id"),
		Durability: wal.DurabilityPersisted,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, o.ActiveCount())
	assert.False(t, o.IsActive("txn-1"))
}

func TestBegin_DuplicateFails(t *testing.T) {
	o := newTestOrchestrator(time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, o.Begin(ctx, record("txn-1", "msg-1")))
	assert.Error(t, o.Begin(ctx, record("txn-1", "msg-2")))
}

func TestCommit_MessageIDMismatch_AutoRollsBack(t *testing.T) {
	var hookCalls int
	hook := func(_ context.Context, _ *Record, params RollbackParams) error {
		hookCalls++
		assert.Contains(t, params.Reason, "Commit failed")
		return nil
	}
	o := newTestOrchestrator(time.Minute, hook)
	ctx := context.Background()

	require.NoError(t, o.Begin(ctx, record("txn-1", "Y")))

	err := o.Commit(ctx, "txn-1", CommitParams{
		MessageID:  "X",
		SendResult: successResult("X"),
		Durability: wal.DurabilityPersisted,
	})
	require.Error(t, err)
	assert.Equal(t, 1, hookCalls)
	assert.Equal(t, 0, o.ActiveCount(), "auto-rollback must clear the active set")
}

func TestCommit_InvalidEvidence(t *testing.T) {
	o := newTestOrchestrator(time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, o.Begin(ctx, record("txn-1", "msg-1")))
	err := o.Commit(ctx, "txn-1", CommitParams{MessageID: "msg-1", SendResult: nil, Durability: wal.DurabilityPersisted})
	assert.Error(t, err, "nil send result must fail")
	assert.Equal(t, 0, o.ActiveCount())

	require.NoError(t, o.Begin(ctx, record("txn-2", "msg-2")))
	err = o.Commit(ctx, "txn-2", CommitParams{MessageID: "msg-2", SendResult: successResult("x"), Durability: "NOT_A_STATUS"})
	assert.Error(t, err, "unknown durability must fail")
	assert.Equal(t, 0, o.ActiveCount())
}

func TestCommit_InactiveTransaction_NoOp(t *testing.T) {
	o := newTestOrchestrator(time.Minute, nil)
	err := o.Commit(context.Background(), "never-started", CommitParams{
		MessageID:  "m",
		SendResult: successResult("m"),
		Durability: wal.DurabilityPersisted,
	})
	assert.NoError(t, err)
}

func TestRollback_HookFailureStillCleansUp(t *testing.T) {
	hook := func(_ context.Context, _ *Record, _ RollbackParams) error {
		return assert.AnError
	}
	o := newTestOrchestrator(time.Minute, hook)
	ctx := context.Background()

	require.NoError(t, o.Begin(ctx, record("txn-1", "msg-1")))
	o.Rollback(ctx, "txn-1", RollbackParams{MessageID: "msg-1", Reason: "producer send failed", Timestamp: time.Now()})
	assert.Equal(t, 0, o.ActiveCount())
}

func TestConcurrentCommitRollback_FirstWins(t *testing.T) {
	o := newTestOrchestrator(time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		txID := fmt.Sprintf("txn-race-%d", i)
		require.NoError(t, o.Begin(ctx, record(txID, "msg")))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = o.Commit(ctx, txID, CommitParams{
				MessageID:  "msg",
				SendResult: successResult("msg"),
				Durability: wal.DurabilityPersisted,
			})
		}()
		go func() {
			defer wg.Done()
			o.Rollback(ctx, txID, RollbackParams{Reason: "race", Timestamp: time.Now()})
		}()
		wg.Wait()

		assert.Equal(t, 0, o.ActiveCount())
	}
}

func TestSweep_ReclaimsOrphans(t *testing.T) {
	var mu sync.Mutex
	reasons := make([]string, 0)
	hook := func(_ context.Context, _ *Record, params RollbackParams) error {
		mu.Lock()
		reasons = append(reasons, params.Reason)
		mu.Unlock()
		return nil
	}
	o := newTestOrchestrator(200*time.Millisecond, hook)
	ctx := context.Background()

	old := record("txn-old", "msg-old")
	old.StartTime = time.Now().Add(-time.Minute)
	require.NoError(t, o.Begin(ctx, old))

	fresh := record("txn-fresh", "msg-fresh")
	require.NoError(t, o.Begin(ctx, fresh))

	o.Start()
	defer o.Stop()

	assert.Eventually(t, func() bool { return !o.IsActive("txn-old") }, time.Second, 10*time.Millisecond)
	assert.True(t, o.IsActive("txn-fresh"), "unexpired transactions must survive the sweep")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reasons, 1)
	assert.Equal(t, OrphanReason, reasons[0])
}

func TestCategorizeReason(t *testing.T) {
	cases := map[string]string{
		"Transaction timeout - orphaned cleanup": "timeout",
		"producer send failed":                   "producer_error",
		"commit validation failed":               "validation_error",
		"connection reset by peer":               "connection_error",
		"Commit failed: message ID mismatch":     "unknown",
		"":                                       "unknown",
	}
	for reason, want := range cases {
		assert.Equal(t, want, CategorizeReason(reason), "reason %q", reason)
	}
}

func TestHealth_DegradesUnderLoad(t *testing.T) {
	o := newTestOrchestrator(time.Minute, nil)
	ctx := context.Background()

	assert.Equal(t, wal.HealthHealthy, o.Health())

	for i := 0; i < DegradedThreshold; i++ {
		require.NoError(t, o.Begin(ctx, record(fmt.Sprintf("txn-load-%d", i), "msg")))
	}
	assert.Equal(t, wal.HealthDegraded, o.Health())
}
