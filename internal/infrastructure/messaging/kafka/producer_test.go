package kafka

import (
	"context"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/WAL-Service/internal/infrastructure/messaging"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// fakeWriter is a scriptable WriterInterface.
type fakeWriter struct {
	written []kafkago.Message
	err     error
	closed  bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.written = append(f.written, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func (f *fakeWriter) Stats() kafkago.WriterStats { return kafkago.WriterStats{} }

func newFakeProducer(w *fakeWriter) *Producer {
	return NewWithWriter(w, []string{"localhost:9092"}, logging.NewNopLogger())
}

func testMessage() *wal.ProducerMessage {
	return &wal.ProducerMessage{
		Topic:     "orders",
		Key:       []byte("wal_1700000000000_abcdef0123456789"),
		Value:     []byte(`{"k":"v"}`),
		Partition: 2,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Headers: map[string]string{
			messaging.HeaderMessageID: "wal_1700000000000_abcdef0123456789",
			messaging.HeaderNamespace: "orders",
		},
	}
}

func TestSend_WritesMessage(t *testing.T) {
	w := &fakeWriter{}
	p := newFakeProducer(w)

	result, err := p.Send(context.Background(), testMessage())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.Durable)
	assert.Equal(t, "wal_1700000000000_abcdef0123456789", result.MessageID)
	require.NotNil(t, result.Partition)
	assert.Equal(t, int32(2), *result.Partition)

	require.Len(t, w.written, 1)
	written := w.written[0]
	assert.Equal(t, "orders", written.Topic)
	assert.Equal(t, 2, written.Partition)
	assert.Equal(t, []byte(`{"k":"v"}`), written.Value)

	headerKeys := make(map[string]string, len(written.Headers))
	for _, h := range written.Headers {
		headerKeys[h.Key] = string(h.Value)
	}
	assert.Equal(t, "orders", headerKeys[messaging.HeaderNamespace])
}

func TestSend_WriteFailure(t *testing.T) {
	w := &fakeWriter{err: assert.AnError}
	p := newFakeProducer(w)

	result, err := p.Send(context.Background(), testMessage())
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)

	stats := p.Metrics()
	assert.Equal(t, int64(1), stats.Failed)
}

func TestSend_MissingTopic(t *testing.T) {
	p := newFakeProducer(&fakeWriter{})
	msg := testMessage()
	msg.Topic = ""

	_, err := p.Send(context.Background(), msg)
	assert.Error(t, err)
}

func TestSendBatch_AllSucceed(t *testing.T) {
	w := &fakeWriter{}
	p := newFakeProducer(w)

	msgs := []*wal.ProducerMessage{testMessage(), testMessage(), testMessage()}
	results, err := p.SendBatch(context.Background(), msgs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Success)
	}
	assert.Len(t, w.written, 3)
}

func TestSendBatch_PartialFailure(t *testing.T) {
	w := &fakeWriter{err: kafkago.WriteErrors{nil, assert.AnError, nil}}
	p := newFakeProducer(w)

	msgs := []*wal.ProducerMessage{testMessage(), testMessage(), testMessage()}
	results, err := p.SendBatch(context.Background(), msgs)
	require.Error(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.True(t, results[2].Success)
}

func TestDisconnect_ClosesWriterOnce(t *testing.T) {
	w := &fakeWriter{}
	p := newFakeProducer(w)

	require.NoError(t, p.Disconnect(context.Background()))
	assert.True(t, w.closed)

	// Second disconnect is a no-op; sends now fail.
	require.NoError(t, p.Disconnect(context.Background()))
	_, err := p.Send(context.Background(), testMessage())
	assert.Error(t, err)
}

func TestPartitionBalancer(t *testing.T) {
	b := &partitionBalancer{}

	// Assigned partition present in the live set wins.
	msg := kafkago.Message{Partition: 2, Key: []byte("k")}
	assert.Equal(t, 2, b.Balance(msg, 0, 1, 2, 3))

	// Assignment outside the live set falls back to key hashing.
	msg = kafkago.Message{Partition: 9, Key: []byte("k")}
	got := b.Balance(msg, 0, 1, 2, 3)
	assert.Contains(t, []int{0, 1, 2, 3}, got)
}

func TestScheduledWhenDelayUntilHeaderSet(t *testing.T) {
	p := newFakeProducer(&fakeWriter{})
	msg := testMessage()
	msg.Headers[messaging.HeaderDelayUntil] = time.Now().Add(time.Minute).UTC().Format(time.RFC3339Nano)

	result, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, result.Scheduled)
}
