package redisstream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisdb "github.com/turtacn/WAL-Service/internal/infrastructure/database/redis"
	"github.com/turtacn/WAL-Service/internal/infrastructure/messaging"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

func newMockedProducer(t *testing.T) (*Producer, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	client := redisdb.NewClientFromUniversal(db, logging.NewNopLogger())
	return New(client, 5*time.Second, logging.NewNopLogger()), mock
}

func testMessage(topic string) *wal.ProducerMessage {
	return &wal.ProducerMessage{
		Topic:     topic,
		Key:       []byte("wal_1700000000000_abcdef0123456789"),
		Value:     []byte(`{"k":"v"}`),
		Partition: 3,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Headers: map[string]string{
			messaging.HeaderContentType: "application/json",
			messaging.HeaderMessageID:   "wal_1700000000000_abcdef0123456789",
			messaging.HeaderNamespace:   "orders",
			messaging.HeaderVersion:     "1.0",
			messaging.HeaderRequestID:   "req_1700000000000_abcdef012345",
		},
	}
}

func expectedValues(msg *wal.ProducerMessage) map[string]interface{} {
	values := map[string]interface{}{
		"value":     string(msg.Value),
		"partition": "3",
		"timestamp": msg.Timestamp.UTC().Format(time.RFC3339Nano),
		"producer":  ProducerName,
	}
	for k, v := range msg.Headers {
		values["header_"+k] = v
	}
	return values
}

func TestSend_AppendsToStream(t *testing.T) {
	p, mock := newMockedProducer(t)
	msg := testMessage("orders")

	mock.ExpectPing().SetVal("PONG")
	mock.ExpectXAdd(&goredis.XAddArgs{
		Stream: "wal:orders:messages",
		ID:     "*",
		Values: expectedValues(msg),
	}).SetVal("1717243200000-0")

	result, err := p.Send(context.Background(), msg)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.Durable)
	assert.False(t, result.Scheduled)
	assert.Equal(t, msg.Headers[messaging.HeaderMessageID], result.MessageID)
	assert.Equal(t, "1717243200000-0", result.Metadata["entry_id"])
	require.NotNil(t, result.Partition)
	assert.Equal(t, int32(3), *result.Partition)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSend_DelayedAlsoWritesSortedSet(t *testing.T) {
	p, mock := newMockedProducer(t)
	msg := testMessage("orders")
	msg.Headers[messaging.HeaderDelay] = "5000"

	scheduledFor := msg.Timestamp.Add(5 * time.Second)
	member, err := json.Marshal(delayedEntry{
		MessageID:       msg.Headers[messaging.HeaderMessageID],
		OriginalMessage: json.RawMessage(msg.Value),
		ScheduledFor:    scheduledFor.UTC().Format(time.RFC3339Nano),
		CreatedAt:       msg.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	mock.ExpectPing().SetVal("PONG")
	mock.ExpectXAdd(&goredis.XAddArgs{
		Stream: "wal:orders:messages",
		ID:     "*",
		Values: expectedValues(msg),
	}).SetVal("1717243200000-1")
	mock.ExpectZAdd("wal:orders:delayed", goredis.Z{
		Score:  float64(scheduledFor.UnixMilli()),
		Member: string(member),
	}).SetVal(1)

	result, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Scheduled, "delayed sends must report scheduled")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSend_TTLAppliesExpireAtomically(t *testing.T) {
	p, mock := newMockedProducer(t)
	msg := testMessage("orders")
	msg.Headers[messaging.HeaderTTL] = "60"

	mock.ExpectPing().SetVal("PONG")
	mock.ExpectTxPipeline()
	mock.ExpectXAdd(&goredis.XAddArgs{
		Stream: "wal:orders:messages",
		ID:     "*",
		Values: expectedValues(msg),
	}).SetVal("1717243200000-2")
	mock.ExpectExpire("wal:orders:messages", 60*time.Second).SetVal(true)
	mock.ExpectTxPipelineExec()

	result, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, result.Success)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSend_AppendFailure(t *testing.T) {
	p, mock := newMockedProducer(t)
	msg := testMessage("orders")

	mock.ExpectPing().SetVal("PONG")
	mock.ExpectXAdd(&goredis.XAddArgs{
		Stream: "wal:orders:messages",
		ID:     "*",
		Values: expectedValues(msg),
	}).SetErr(assert.AnError)

	result, err := p.Send(context.Background(), msg)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestSend_ReadonlyMarksDisconnected(t *testing.T) {
	p, mock := newMockedProducer(t)
	msg := testMessage("orders")

	mock.ExpectPing().SetVal("PONG")
	mock.ExpectXAdd(&goredis.XAddArgs{
		Stream: "wal:orders:messages",
		ID:     "*",
		Values: expectedValues(msg),
	}).SetErr(errReadonly{})

	_, err := p.Send(context.Background(), msg)
	require.Error(t, err)
	assert.False(t, p.connected.Load(), "READONLY must drop the connection gauge")
}

type errReadonly struct{}

func (errReadonly) Error() string {
	return "READONLY You can't write against a read only replica."
}

func TestHealthStatus(t *testing.T) {
	p, mock := newMockedProducer(t)

	mock.ExpectPing().SetVal("PONG")
	entry := p.HealthStatus(context.Background())
	assert.Equal(t, wal.HealthHealthy, entry.Status)
	assert.Contains(t, entry.Details, "ping_ms")

	mock.ExpectPing().SetErr(assert.AnError)
	entry = p.HealthStatus(context.Background())
	assert.Equal(t, wal.HealthUnhealthy, entry.Status)
}

func TestSend_MissingTopic(t *testing.T) {
	p, _ := newMockedProducer(t)
	msg := testMessage("")
	msg.Topic = ""

	_, err := p.Send(context.Background(), msg)
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "wal:orders:messages", StreamKey("orders"))
	assert.Equal(t, "wal:orders:delayed", DelayedKey("orders"))
}
