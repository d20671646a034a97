package sqs

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/WAL-Service/internal/infrastructure/messaging"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// fakeAPI is a scriptable SQS API.
type fakeAPI struct {
	inputs  []*awssqs.SendMessageInput
	sendErr error
	listErr error
}

func (f *fakeAPI) SendMessage(_ context.Context, in *awssqs.SendMessageInput, _ ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.inputs = append(f.inputs, in)
	return &awssqs.SendMessageOutput{MessageId: aws.String("sqs-native-id-1")}, nil
}

func (f *fakeAPI) ListQueues(_ context.Context, _ *awssqs.ListQueuesInput, _ ...func(*awssqs.Options)) (*awssqs.ListQueuesOutput, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &awssqs.ListQueuesOutput{}, nil
}

const prefix = "https://sqs.us-east-1.amazonaws.com/123456789012/"

func newFakeProducer(api *fakeAPI) *Producer {
	return NewWithClient(api, prefix, logging.NewNopLogger())
}

func testMessage() *wal.ProducerMessage {
	return &wal.ProducerMessage{
		Topic:     "orders",
		Value:     []byte(`{"k":"v"}`),
		Partition: 1,
		Headers: map[string]string{
			messaging.HeaderMessageID: "wal_1700000000000_abcdef0123456789",
			messaging.HeaderNamespace: "orders",
		},
	}
}

func TestSend_EnqueuesWithDerivedQueueURL(t *testing.T) {
	api := &fakeAPI{}
	p := newFakeProducer(api)

	result, err := p.Send(context.Background(), testMessage())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.Durable)
	assert.Equal(t, "wal_1700000000000_abcdef0123456789", result.MessageID)
	assert.Equal(t, "sqs-native-id-1", result.Metadata["sqs_message_id"])

	require.Len(t, api.inputs, 1)
	in := api.inputs[0]
	assert.Equal(t, prefix+"orders", aws.ToString(in.QueueUrl))
	assert.Equal(t, `{"k":"v"}`, aws.ToString(in.MessageBody))
	assert.Equal(t, int32(0), in.DelaySeconds)

	attr, ok := in.MessageAttributes[messaging.HeaderNamespace]
	require.True(t, ok)
	assert.Equal(t, "orders", aws.ToString(attr.StringValue))
}

func TestSend_DelayClampedToSQSMaximum(t *testing.T) {
	api := &fakeAPI{}
	p := newFakeProducer(api)

	msg := testMessage()
	msg.Headers[messaging.HeaderDelay] = "5000" // 5s in ms
	result, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, result.Scheduled)
	assert.Equal(t, int32(5), api.inputs[0].DelaySeconds)

	// Beyond the SQS ceiling: clamped to 900.
	msg = testMessage()
	msg.Headers[messaging.HeaderDelay] = "3600000" // 1h in ms
	_, err = p.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, int32(MaxDelaySeconds), api.inputs[1].DelaySeconds)
}

func TestSend_Failure(t *testing.T) {
	api := &fakeAPI{sendErr: assert.AnError}
	p := newFakeProducer(api)

	result, err := p.Send(context.Background(), testMessage())
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
}

func TestHealth(t *testing.T) {
	p := newFakeProducer(&fakeAPI{})
	assert.True(t, p.HealthCheck(context.Background()))
	assert.Equal(t, wal.HealthHealthy, p.HealthStatus(context.Background()).Status)

	down := newFakeProducer(&fakeAPI{listErr: assert.AnError})
	assert.False(t, down.HealthCheck(context.Background()))
	assert.Equal(t, wal.HealthUnhealthy, down.HealthStatus(context.Background()).Status)
}

func TestDisconnect(t *testing.T) {
	p := newFakeProducer(&fakeAPI{})
	require.NoError(t, p.Disconnect(context.Background()))
	_, err := p.Send(context.Background(), testMessage())
	assert.Error(t, err)
}
