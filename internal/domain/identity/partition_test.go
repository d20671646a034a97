package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionFor_Deterministic(t *testing.T) {
	keys := []string{"wal_1700000000000_abcdef0123456789", "user:42", "", "日本語キー"}
	for _, k := range keys {
		first := PartitionFor(k, 10)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, PartitionFor(k, 10), "key %q must hash stably", k)
		}
	}
}

func TestPartitionFor_Range(t *testing.T) {
	for _, n := range []int{1, 3, 10, 64} {
		for _, k := range []string{"a", "bb", "order-12345", "wal_1700000000000_00ff00ff00ff00ff"} {
			p := PartitionFor(k, n)
			assert.GreaterOrEqual(t, p, 0)
			assert.Less(t, p, n)
		}
	}
}

func TestPartitionFor_ZeroPartitions(t *testing.T) {
	assert.Equal(t, 0, PartitionFor("anything", 0))
	assert.Equal(t, 0, PartitionFor("anything", -1))
}

func TestPartitioner_RoundRobin(t *testing.T) {
	p := NewPartitioner()
	got := make([]int, 0, 8)
	for i := 0; i < 8; i++ {
		got = append(got, p.Assign(StrategyRoundRobin, "orders", "ignored", nil, "", 3))
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0, 1}, got)

	// Counters are independent per namespace.
	assert.Equal(t, 0, p.Assign(StrategyRoundRobin, "payments", "ignored", nil, "", 3))
}

func TestPartitioner_Random_InRange(t *testing.T) {
	p := NewPartitioner()
	for i := 0; i < 50; i++ {
		got := p.Assign(StrategyRandom, "ns", "k", nil, "", 4)
		assert.GreaterOrEqual(t, got, 0)
		assert.Less(t, got, 4)
	}
}

func TestPartitioner_Custom_ExtractsKey(t *testing.T) {
	p := NewPartitioner()
	payload := map[string]interface{}{
		"order": map[string]interface{}{
			"customer": map[string]interface{}{"id": "cust-77"},
		},
	}

	want := PartitionFor("cust-77", 16)
	got := p.Assign(StrategyCustom, "orders", "fallback-key", payload, "order.customer.id", 16)
	assert.Equal(t, want, got)
}

func TestPartitioner_Custom_FallsBackToHash(t *testing.T) {
	p := NewPartitioner()
	payload := map[string]interface{}{"order": "not-an-object"}

	want := PartitionFor("fallback-key", 16)
	got := p.Assign(StrategyCustom, "orders", "fallback-key", payload, "order.customer.id", 16)
	assert.Equal(t, want, got)
}

func TestExtractPath(t *testing.T) {
	payload := map[string]interface{}{
		"a": map[string]interface{}{"b": float64(7)},
		"s": "top",
	}

	v, ok := ExtractPath(payload, "a.b")
	assert.True(t, ok)
	assert.Equal(t, float64(7), v)

	v, ok = ExtractPath(payload, "s")
	assert.True(t, ok)
	assert.Equal(t, "top", v)

	_, ok = ExtractPath(payload, "a.b.c")
	assert.False(t, ok)
	_, ok = ExtractPath(payload, "missing")
	assert.False(t, ok)
	_, ok = ExtractPath(nil, "a")
	assert.False(t, ok)
}
