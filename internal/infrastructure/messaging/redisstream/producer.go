// Package redisstream implements the Producer contract over Redis Streams.
// It is the canonical backend: the wire-level layout written here (stream
// fields, delayed sorted set, TTL handling) is what the conformance tests
// assert against.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	redisdb "github.com/turtacn/WAL-Service/internal/infrastructure/database/redis"
	"github.com/turtacn/WAL-Service/internal/infrastructure/messaging"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/turtacn/WAL-Service/pkg/errors"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// ProducerName is stamped into every stream entry's "producer" field.
const ProducerName = "redis-producer"

// Connection retry tunables. Backoff grows linearly with the attempt count
// and is capped at maxConnectBackoff.
const (
	maxConnectAttempts = 5
	connectBackoffStep = 50 * time.Millisecond
	maxConnectBackoff  = 2 * time.Second
)

// StreamKey returns the stream a topic's messages are appended to.
func StreamKey(topic string) string {
	return "wal:" + topic + ":messages"
}

// DelayedKey returns the sorted set recording a topic's delayed messages.
func DelayedKey(topic string) string {
	return "wal:" + topic + ":delayed"
}

// delayedEntry is the JSON member stored in the delayed sorted set.
type delayedEntry struct {
	MessageID       string          `json:"messageId"`
	OriginalMessage json.RawMessage `json:"originalMessage"`
	ScheduledFor    string          `json:"scheduledFor"`
	CreatedAt       string          `json:"createdAt"`
}

// Producer appends messages to Redis Streams. It connects lazily on first
// use and reconnects when the server reports a READONLY state (replica
// promotion in progress).
type Producer struct {
	client         *redisdb.Client
	log            logging.Logger
	commandTimeout time.Duration

	connectMu sync.Mutex
	connected atomic.Bool
	closed    atomic.Bool

	stats messaging.Stats
}

// New constructs a Redis Streams producer over client. commandTimeout bounds
// individual commands; non-positive values default to five seconds.
func New(client *redisdb.Client, commandTimeout time.Duration, log logging.Logger) *Producer {
	if commandTimeout <= 0 {
		commandTimeout = 5 * time.Second
	}
	return &Producer{
		client:         client,
		log:            log.Named("redis-producer"),
		commandTimeout: commandTimeout,
	}
}

// Backend identifies this driver.
func (p *Producer) Backend() wal.Backend { return wal.BackendRedis }

// Connect establishes the connection eagerly, retrying with linear backoff
// capped at two seconds.
func (p *Producer) Connect(ctx context.Context) error {
	return p.ensureConnected(ctx)
}

func (p *Producer) ensureConnected(ctx context.Context) error {
	if p.closed.Load() {
		return pkgerrors.New(pkgerrors.CodeQueueError, "redis producer is closed")
	}
	if p.connected.Load() {
		return nil
	}

	p.connectMu.Lock()
	defer p.connectMu.Unlock()
	if p.connected.Load() {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, p.commandTimeout)
		err := p.client.Ping(pingCtx)
		cancel()
		if err == nil {
			p.connected.Store(true)
			p.log.Info("connected to redis")
			return nil
		}
		lastErr = err

		backoff := time.Duration(attempt) * connectBackoffStep
		if backoff > maxConnectBackoff {
			backoff = maxConnectBackoff
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return pkgerrors.Timeout("redis connect cancelled").WithCause(ctx.Err())
		}
	}
	return pkgerrors.New(pkgerrors.CodeQueueError, "redis connection failed").WithCause(lastErr)
}

// markDisconnected flips the connection gauge after an error that implies
// the link is unusable.
func (p *Producer) markDisconnected(reason error) {
	if p.connected.CompareAndSwap(true, false) {
		p.log.Warn("redis connection marked down", logging.Err(reason))
	}
}

// Send appends msg to the topic's stream. Delayed messages are additionally
// recorded in the delayed sorted set; the primary append always happens.
func (p *Producer) Send(ctx context.Context, msg *wal.ProducerMessage) (*wal.ProducerResult, error) {
	if p.closed.Load() {
		return nil, pkgerrors.New(pkgerrors.CodeQueueError, "redis producer is closed")
	}
	if msg.Topic == "" {
		return nil, pkgerrors.Validation("topic is required")
	}
	if err := p.ensureConnected(ctx); err != nil {
		p.stats.RecordFailure()
		return nil, err
	}

	values := make(map[string]interface{}, len(msg.Headers)+4)
	values["value"] = string(msg.Value)
	values["partition"] = strconv.Itoa(msg.Partition)
	values["timestamp"] = msg.Timestamp.UTC().Format(time.RFC3339Nano)
	values["producer"] = ProducerName
	for k, v := range msg.Headers {
		values["header_"+k] = v
	}

	delayMs := headerInt(msg.Headers, messaging.HeaderDelay)
	ttlSec := headerInt(msg.Headers, messaging.HeaderTTL)

	streamKey := StreamKey(msg.Topic)
	start := time.Now()

	cmdCtx, cancel := context.WithTimeout(ctx, p.commandTimeout)
	defer cancel()

	var entryID string
	var err error
	if ttlSec > 0 {
		// Append and TTL application ride one transactional pipeline so a
		// crash between them cannot leave an unexpiring stream.
		pipe := p.client.TxPipeline()
		addCmd := pipe.XAdd(cmdCtx, &goredis.XAddArgs{Stream: streamKey, ID: "*", Values: values})
		pipe.Expire(cmdCtx, streamKey, time.Duration(ttlSec)*time.Second)
		_, err = pipe.Exec(cmdCtx)
		if err == nil {
			entryID = addCmd.Val()
		}
	} else {
		entryID, err = p.client.Universal().XAdd(cmdCtx, &goredis.XAddArgs{
			Stream: streamKey, ID: "*", Values: values,
		}).Result()
	}
	if err != nil {
		p.stats.RecordFailure()
		if strings.Contains(err.Error(), "READONLY") {
			// Replica took over the address; drop the connection state so
			// the next send re-probes through the failover.
			p.markDisconnected(err)
		}
		return &wal.ProducerResult{Success: false, Error: err.Error(), Timestamp: time.Now()},
			pkgerrors.Wrap(err, pkgerrors.CodeQueueError, "redis stream append failed")
	}

	scheduled := false
	if delayMs > 0 {
		if err := p.recordDelayed(cmdCtx, msg, delayMs); err != nil {
			p.stats.RecordFailure()
			return &wal.ProducerResult{Success: false, Error: err.Error(), Timestamp: time.Now()},
				pkgerrors.Wrap(err, pkgerrors.CodeQueueError, "delayed message recording failed")
		}
		scheduled = true
	}

	p.stats.RecordSend(len(msg.Value), time.Since(start))

	// Echo the application message ID so the commit evidence ties back to
	// the message the pipeline handed over; the stream entry ID rides in
	// the metadata.
	messageID := msg.Headers[messaging.HeaderMessageID]
	if messageID == "" {
		messageID = entryID
	}

	partition := int32(msg.Partition)
	return &wal.ProducerResult{
		MessageID: messageID,
		Success:   true,
		Durable:   true,
		Scheduled: scheduled,
		Partition: &partition,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"stream": streamKey, "entry_id": entryID},
	}, nil
}

// recordDelayed writes the scheduled-release entry to the topic's delayed
// sorted set, scored by the absolute release instant in unix milliseconds.
// The schedule anchors to the message timestamp (the enrichment instant) so
// retries of the same message land on the same score.
func (p *Producer) recordDelayed(ctx context.Context, msg *wal.ProducerMessage, delayMs int64) error {
	base := msg.Timestamp
	if base.IsZero() {
		base = time.Now()
	}
	scheduledFor := base.Add(time.Duration(delayMs) * time.Millisecond)

	entry := delayedEntry{
		MessageID:       msg.Headers[messaging.HeaderMessageID],
		OriginalMessage: json.RawMessage(msg.Value),
		ScheduledFor:    scheduledFor.UTC().Format(time.RFC3339Nano),
		CreatedAt:       base.UTC().Format(time.RFC3339Nano),
	}
	member, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("delayed entry not serialisable: %w", err)
	}

	return p.client.Universal().ZAdd(ctx, DelayedKey(msg.Topic), goredis.Z{
		Score:  float64(scheduledFor.UnixMilli()),
		Member: string(member),
	}).Err()
}

// SendBatch appends msgs one at a time, returning per-message results. The
// first transport-level failure aborts the remainder.
func (p *Producer) SendBatch(ctx context.Context, msgs []*wal.ProducerMessage) ([]*wal.ProducerResult, error) {
	results := make([]*wal.ProducerResult, 0, len(msgs))
	for _, msg := range msgs {
		res, err := p.Send(ctx, msg)
		if res == nil && err != nil {
			res = &wal.ProducerResult{Success: false, Error: err.Error(), Timestamp: time.Now()}
		}
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// HealthCheck reports whether the connection gauge is up, confirming with a
// ping when the gauge says down.
func (p *Producer) HealthCheck(ctx context.Context) bool {
	if p.closed.Load() {
		return false
	}
	if p.connected.Load() {
		return true
	}
	pingCtx, cancel := context.WithTimeout(ctx, p.commandTimeout)
	defer cancel()
	if err := p.client.Ping(pingCtx); err != nil {
		return false
	}
	p.connected.Store(true)
	return true
}

// HealthStatus performs a fresh ping and returns a detailed sample.
func (p *Producer) HealthStatus(ctx context.Context) wal.ProducerHealthEntry {
	entry := wal.ProducerHealthEntry{LastCheck: time.Now(), Details: map[string]string{}}
	if p.closed.Load() {
		entry.Status = wal.HealthUnhealthy
		entry.Details["reason"] = "closed"
		return entry
	}

	pingCtx, cancel := context.WithTimeout(ctx, p.commandTimeout)
	defer cancel()
	start := time.Now()
	if err := p.client.Ping(pingCtx); err != nil {
		p.markDisconnected(err)
		entry.Status = wal.HealthUnhealthy
		entry.Details["error"] = err.Error()
		return entry
	}
	p.connected.Store(true)

	latency := time.Since(start)
	entry.Details["ping_ms"] = strconv.FormatInt(latency.Milliseconds(), 10)
	entry.Status = wal.HealthHealthy
	if latency > p.commandTimeout/2 {
		entry.Status = wal.HealthDegraded
	}
	return entry
}

// Disconnect closes the producer; it must not be used afterwards.
func (p *Producer) Disconnect(_ context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.connected.Store(false)
	err := p.client.Close()
	p.log.Info("redis producer closed", logging.Int64("sent", p.stats.Snapshot().Sent))
	return err
}

// Metrics returns a snapshot of the driver counters.
func (p *Producer) Metrics() messaging.ProducerStats {
	return p.stats.Snapshot()
}

func headerInt(headers map[string]string, key string) int64 {
	if headers == nil {
		return 0
	}
	raw, ok := headers[key]
	if !ok || raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
