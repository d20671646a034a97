// Package kafka implements the Producer contract over segmentio/kafka-go.
package kafka

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/turtacn/WAL-Service/internal/config"
	"github.com/turtacn/WAL-Service/internal/infrastructure/messaging"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/turtacn/WAL-Service/pkg/errors"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// WriterInterface abstracts kafka.Writer for testing.
type WriterInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
	Stats() kafkago.WriterStats
}

// partitionBalancer routes each message to the partition the pipeline
// already assigned (kafka.Message.Partition), falling back to a hash of the
// key when the assignment is outside the topic's live partition set.
type partitionBalancer struct {
	fallback kafkago.Hash
}

func (b *partitionBalancer) Balance(msg kafkago.Message, partitions ...int) int {
	for _, p := range partitions {
		if p == msg.Partition {
			return p
		}
	}
	return b.fallback.Balance(msg, partitions...)
}

// Producer appends messages to Kafka topics.
type Producer struct {
	writer  WriterInterface
	brokers []string
	timeout time.Duration
	log     logging.Logger
	closed  atomic.Bool
	stats   messaging.Stats
}

// New constructs a Kafka producer from cfg. The writer is created
// immediately; actual connections are established by kafka-go on first
// write, so construction does not require a reachable broker.
func New(cfg config.KafkaConfig, log logging.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, pkgerrors.Validation("kafka brokers are required")
	}

	var acks kafkago.RequiredAcks
	switch cfg.Acks {
	case "none":
		acks = kafkago.RequireNone
	case "one":
		acks = kafkago.RequireOne
	default:
		acks = kafkago.RequireAll
	}

	var compression kafkago.Compression
	switch cfg.Compression {
	case "gzip":
		compression = kafkago.Gzip
	case "snappy":
		compression = kafkago.Snappy
	case "lz4":
		compression = kafkago.Lz4
	case "zstd":
		compression = kafkago.Zstd
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Balancer:     &partitionBalancer{},
		MaxAttempts:  cfg.MaxRetries + 1,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.RequestTimeout,
		RequiredAcks: acks,
		Compression:  compression,
	}

	return &Producer{
		writer:  writer,
		brokers: cfg.Brokers,
		timeout: cfg.RequestTimeout,
		log:     log.Named("kafka-producer"),
	}, nil
}

// NewWithWriter constructs a Producer over an injected writer. Test seam.
func NewWithWriter(w WriterInterface, brokers []string, log logging.Logger) *Producer {
	return &Producer{
		writer:  w,
		brokers: brokers,
		timeout: 30 * time.Second,
		log:     log.Named("kafka-producer"),
	}
}

// Backend identifies this driver.
func (p *Producer) Backend() wal.Backend { return wal.BackendKafka }

func (p *Producer) toKafkaMessage(msg *wal.ProducerMessage) kafkago.Message {
	headers := make([]kafkago.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return kafkago.Message{
		Topic:     msg.Topic,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Time:      ts,
		Partition: msg.Partition,
	}
}

// Send appends a single message. Required acks make a successful return a
// durable append; the result carries the assigned partition. Offset is
// never set: WriteMessages returns no broker-assigned offset.
func (p *Producer) Send(ctx context.Context, msg *wal.ProducerMessage) (*wal.ProducerResult, error) {
	if p.closed.Load() {
		return nil, pkgerrors.New(pkgerrors.CodeQueueError, "kafka producer is closed")
	}
	if msg.Topic == "" {
		return nil, pkgerrors.Validation("topic is required")
	}

	start := time.Now()
	err := p.writer.WriteMessages(ctx, p.toKafkaMessage(msg))
	if err != nil {
		p.stats.RecordFailure()
		return &wal.ProducerResult{Success: false, Error: err.Error(), Timestamp: time.Now()},
			pkgerrors.Wrap(err, pkgerrors.CodeQueueError, "kafka publish failed")
	}
	p.stats.RecordSend(len(msg.Value), time.Since(start))

	partition := int32(msg.Partition)
	return &wal.ProducerResult{
		MessageID: msg.Headers[messaging.HeaderMessageID],
		Success:   true,
		Durable:   true,
		Scheduled: msg.Headers[messaging.HeaderDelayUntil] != "",
		Partition: &partition,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"topic": msg.Topic},
	}, nil
}

// SendBatch appends msgs in one writer call. kafka-go reports per-message
// failures through kafka.WriteErrors, which are folded into the results.
func (p *Producer) SendBatch(ctx context.Context, msgs []*wal.ProducerMessage) ([]*wal.ProducerResult, error) {
	if p.closed.Load() {
		return nil, pkgerrors.New(pkgerrors.CodeQueueError, "kafka producer is closed")
	}
	kMsgs := make([]kafkago.Message, len(msgs))
	for i, m := range msgs {
		kMsgs[i] = p.toKafkaMessage(m)
	}

	results := make([]*wal.ProducerResult, len(msgs))
	err := p.writer.WriteMessages(ctx, kMsgs...)
	now := time.Now()

	if err == nil {
		for i, m := range msgs {
			partition := int32(m.Partition)
			results[i] = &wal.ProducerResult{
				MessageID: m.Headers[messaging.HeaderMessageID],
				Success:   true,
				Durable:   true,
				Partition: &partition,
				Timestamp: now,
			}
			p.stats.RecordSend(len(m.Value), 0)
		}
		return results, nil
	}

	if writeErrs, ok := err.(kafkago.WriteErrors); ok {
		for i := range msgs {
			if i < len(writeErrs) && writeErrs[i] != nil {
				p.stats.RecordFailure()
				results[i] = &wal.ProducerResult{Success: false, Error: writeErrs[i].Error(), Timestamp: now}
			} else {
				partition := int32(msgs[i].Partition)
				p.stats.RecordSend(len(msgs[i].Value), 0)
				results[i] = &wal.ProducerResult{
					MessageID: msgs[i].Headers[messaging.HeaderMessageID],
					Success:   true,
					Durable:   true,
					Partition: &partition,
					Timestamp: now,
				}
			}
		}
		return results, pkgerrors.Wrap(err, pkgerrors.CodeQueueError, "kafka batch publish partially failed")
	}

	for i := range results {
		p.stats.RecordFailure()
		results[i] = &wal.ProducerResult{Success: false, Error: err.Error(), Timestamp: now}
	}
	return results, pkgerrors.Wrap(err, pkgerrors.CodeQueueError, "kafka batch publish failed")
}

// HealthCheck dials the first reachable broker.
func (p *Producer) HealthCheck(ctx context.Context) bool {
	if p.closed.Load() {
		return false
	}
	for _, broker := range p.brokers {
		d := &kafkago.Dialer{Timeout: 5 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", broker)
		if err == nil {
			conn.Close()
			return true
		}
	}
	return false
}

// HealthStatus dials brokers and reports reachability details.
func (p *Producer) HealthStatus(ctx context.Context) wal.ProducerHealthEntry {
	entry := wal.ProducerHealthEntry{LastCheck: time.Now(), Details: map[string]string{}}
	if p.closed.Load() {
		entry.Status = wal.HealthUnhealthy
		entry.Details["reason"] = "closed"
		return entry
	}

	reachable := 0
	for _, broker := range p.brokers {
		d := &kafkago.Dialer{Timeout: 5 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", broker)
		if err != nil {
			entry.Details[broker] = err.Error()
			continue
		}
		conn.Close()
		reachable++
		entry.Details[broker] = "ok"
	}
	entry.Details["reachable"] = strconv.Itoa(reachable)

	switch {
	case reachable == len(p.brokers):
		entry.Status = wal.HealthHealthy
	case reachable > 0:
		entry.Status = wal.HealthDegraded
	default:
		entry.Status = wal.HealthUnhealthy
	}
	return entry
}

// Connect verifies broker reachability eagerly.
func (p *Producer) Connect(ctx context.Context) error {
	if p.HealthCheck(ctx) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeQueueError, "no kafka broker reachable")
}

// Disconnect closes the writer.
func (p *Producer) Disconnect(_ context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := p.writer.Close()
	p.log.Info("kafka producer closed", logging.Int64("sent", p.stats.Snapshot().Sent))
	return err
}

// Metrics returns a snapshot of the driver counters.
func (p *Producer) Metrics() messaging.ProducerStats {
	return p.stats.Snapshot()
}
