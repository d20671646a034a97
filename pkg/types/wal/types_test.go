package wal

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetList_UnmarshalSingleObject(t *testing.T) {
	var intent WriteIntent
	body := `{
		"namespace": "orders",
		"payload": {"k": "v"},
		"target": {"type": "cache", "identifier": "r1", "config": {"regions": ["us-east-1"]}}
	}`
	require.NoError(t, json.Unmarshal([]byte(body), &intent))

	require.Len(t, intent.Target, 1)
	assert.Equal(t, TargetCache, intent.Target[0].Type)
	assert.Equal(t, []string{"us-east-1"}, intent.Target[0].Regions())
}

func TestTargetList_UnmarshalArray(t *testing.T) {
	var intent WriteIntent
	body := `{
		"namespace": "orders",
		"payload": {"k": "v"},
		"target": [{"type": "cache"}, {"type": "webhook"}]
	}`
	require.NoError(t, json.Unmarshal([]byte(body), &intent))

	require.Len(t, intent.Target, 2)
	assert.Equal(t, TargetCache, intent.Target[0].Type)
	assert.Equal(t, TargetWebhook, intent.Target[1].Type)
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "abcdefgh***", MaskAPIKey("abcdefghijklmnop"))
	assert.Equal(t, "***", MaskAPIKey("short"))
	assert.Equal(t, "***", MaskAPIKey("12345678"))
	assert.Equal(t, "12345678***", MaskAPIKey("123456789"))
	assert.Equal(t, "", MaskAPIKey(""))
}

func TestEnrichedMessage_MarshalMasksAPIKey(t *testing.T) {
	m := &EnrichedMessage{
		MessageID: "wal_1700000000000_abcdef0123456789",
		Namespace: "orders",
		Payload:   map[string]interface{}{"k": "v"},
		APIKey:    "supersecretapikey123",
		Version:   MessageVersion,
		Status:    StatusPending,
	}

	raw, err := json.Marshal(m)
	require.NoError(t, err)

	serialized := string(raw)
	assert.NotContains(t, serialized, "supersecretapikey123")
	assert.Contains(t, serialized, `"apiKey":"supersec***"`)
}

func TestDurabilityStatus(t *testing.T) {
	assert.True(t, DurabilityPersisted.Valid())
	assert.True(t, DurabilityFailed.Valid())
	assert.False(t, DurabilityUnknown.Valid())
	assert.False(t, DurabilityStatus("BOGUS").Valid())

	assert.Equal(t, "persisted", DurabilityPersisted.Wire())
	assert.Equal(t, "scheduled", DurabilityScheduled.Wire())
	assert.Equal(t, "unknown", DurabilityStatus("").Wire())
}

func TestParseBackend(t *testing.T) {
	assert.Equal(t, BackendRedis, ParseBackend(" Redis "))
	assert.Equal(t, BackendKafka, ParseBackend("KAFKA"))
	assert.True(t, BackendSQS.Known())
	assert.False(t, ParseBackend("rabbitmq").Known())
}

func TestLifecycle_Delay(t *testing.T) {
	var nilLifecycle *Lifecycle
	assert.Zero(t, nilLifecycle.Delay())
	assert.Zero(t, (&Lifecycle{}).Delay())
	assert.Equal(t, "5s", (&Lifecycle{DelaySeconds: 5}).Delay().String())
}

func TestPayloadSize(t *testing.T) {
	size, err := PayloadSize(map[string]interface{}{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, len(`{"k":"v"}`), size)

	_, err = PayloadSize(nil)
	assert.Error(t, err)

	big := map[string]interface{}{"k": strings.Repeat("x", 100)}
	size, err = PayloadSize(big)
	require.NoError(t, err)
	assert.Equal(t, 108, size)
}

func TestProducerHealthEntry_Healthy(t *testing.T) {
	assert.True(t, ProducerHealthEntry{Status: HealthHealthy}.Healthy())
	assert.True(t, ProducerHealthEntry{Status: HealthDegraded}.Healthy())
	assert.False(t, ProducerHealthEntry{Status: HealthUnhealthy}.Healthy())
}
