// Package sqs implements the Producer contract over AWS SQS using
// aws-sdk-go-v2.
package sqs

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/turtacn/WAL-Service/internal/config"
	"github.com/turtacn/WAL-Service/internal/infrastructure/messaging"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/turtacn/WAL-Service/pkg/errors"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// MaxDelaySeconds is the SQS per-message delay ceiling. Larger requested
// delays are clamped; the true release instant still travels in the
// delay-until header for the consumer side.
const MaxDelaySeconds = 900

// API abstracts the SQS client operations this driver uses. Test seam.
type API interface {
	SendMessage(ctx context.Context, in *awssqs.SendMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error)
	ListQueues(ctx context.Context, in *awssqs.ListQueuesInput, optFns ...func(*awssqs.Options)) (*awssqs.ListQueuesOutput, error)
}

// Producer enqueues messages onto SQS queues derived from the topic name.
type Producer struct {
	client         API
	queueURLPrefix string
	log            logging.Logger
	closed         atomic.Bool
	stats          messaging.Stats
}

// New constructs an SQS producer from cfg, resolving AWS credentials from
// the default chain. A non-empty cfg.Endpoint redirects the client
// (localstack, VPC endpoints).
func New(ctx context.Context, cfg config.SQSConfig, log logging.Logger) (*Producer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeQueueError, "failed to load AWS configuration")
	}

	client := awssqs.NewFromConfig(awsCfg, func(o *awssqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Producer{
		client:         client,
		queueURLPrefix: cfg.QueueURLPrefix,
		log:            log.Named("sqs-producer"),
	}, nil
}

// NewWithClient constructs a Producer over an injected client. Test seam.
func NewWithClient(client API, queueURLPrefix string, log logging.Logger) *Producer {
	return &Producer{
		client:         client,
		queueURLPrefix: queueURLPrefix,
		log:            log.Named("sqs-producer"),
	}
}

// Backend identifies this driver.
func (p *Producer) Backend() wal.Backend { return wal.BackendSQS }

// QueueURL derives the queue URL for a topic.
func (p *Producer) QueueURL(topic string) string {
	return p.queueURLPrefix + topic
}

// Send enqueues msg. The lifecycle delay is honored through DelaySeconds up
// to the SQS maximum of 900 seconds.
func (p *Producer) Send(ctx context.Context, msg *wal.ProducerMessage) (*wal.ProducerResult, error) {
	if p.closed.Load() {
		return nil, pkgerrors.New(pkgerrors.CodeQueueError, "sqs producer is closed")
	}
	if msg.Topic == "" {
		return nil, pkgerrors.Validation("topic is required")
	}

	input := &awssqs.SendMessageInput{
		QueueUrl:    aws.String(p.QueueURL(msg.Topic)),
		MessageBody: aws.String(string(msg.Value)),
	}

	if len(msg.Headers) > 0 {
		attrs := make(map[string]sqstypes.MessageAttributeValue, len(msg.Headers))
		for k, v := range msg.Headers {
			attrs[k] = sqstypes.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
		attrs["partition"] = sqstypes.MessageAttributeValue{
			DataType:    aws.String("Number"),
			StringValue: aws.String(strconv.Itoa(msg.Partition)),
		}
		input.MessageAttributes = attrs
	}

	scheduled := false
	if delayMs := headerInt(msg.Headers, messaging.HeaderDelay); delayMs > 0 {
		delaySec := delayMs / 1000
		if delaySec > MaxDelaySeconds {
			delaySec = MaxDelaySeconds
		}
		if delaySec > 0 {
			input.DelaySeconds = int32(delaySec)
			scheduled = true
		}
	}

	start := time.Now()
	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		p.stats.RecordFailure()
		return &wal.ProducerResult{Success: false, Error: err.Error(), Timestamp: time.Now()},
			pkgerrors.Wrap(err, pkgerrors.CodeQueueError, "sqs enqueue failed")
	}
	p.stats.RecordSend(len(msg.Value), time.Since(start))

	// Echo the application message ID for commit evidence; the SQS-native
	// ID rides in the metadata.
	messageID := msg.Headers[messaging.HeaderMessageID]
	if messageID == "" {
		messageID = aws.ToString(out.MessageId)
	}

	return &wal.ProducerResult{
		MessageID: messageID,
		Success:   true,
		Durable:   true,
		Scheduled: scheduled,
		Timestamp: time.Now(),
		Metadata: map[string]string{
			"queue_url":      p.QueueURL(msg.Topic),
			"sqs_message_id": aws.ToString(out.MessageId),
		},
	}, nil
}

// SendBatch enqueues msgs one at a time. SQS batch entries cap at ten per
// call and complicate per-message result mapping; sequential sends keep the
// result contract exact.
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

// HealthCheck lists one queue to confirm API reachability and credentials.
func (p *Producer) HealthCheck(ctx context.Context) bool {
	if p.closed.Load() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.client.ListQueues(probeCtx, &awssqs.ListQueuesInput{MaxResults: aws.Int32(1)})
	return err == nil
}

// HealthStatus probes the API and reports the outcome.
func (p *Producer) HealthStatus(ctx context.Context) wal.ProducerHealthEntry {
	entry := wal.ProducerHealthEntry{LastCheck: time.Now(), Details: map[string]string{}}
	if p.closed.Load() {
		entry.Status = wal.HealthUnhealthy
		entry.Details["reason"] = "closed"
		return entry
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	start := time.Now()
	_, err := p.client.ListQueues(probeCtx, &awssqs.ListQueuesInput{MaxResults: aws.Int32(1)})
	if err != nil {
		entry.Status = wal.HealthUnhealthy
		entry.Details["error"] = err.Error()
		return entry
	}
	entry.Status = wal.HealthHealthy
	entry.Details["probe_ms"] = strconv.FormatInt(time.Since(start).Milliseconds(), 10)
	return entry
}

// Connect verifies API reachability eagerly.
func (p *Producer) Connect(ctx context.Context) error {
	if p.HealthCheck(ctx) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeQueueError, "sqs API unreachable")
}

// Disconnect marks the producer closed. The SDK client holds no
// long-lived connections that require teardown.
func (p *Producer) Disconnect(_ context.Context) error {
	p.closed.Store(true)
	return nil
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
