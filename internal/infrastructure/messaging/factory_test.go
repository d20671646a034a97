package messaging

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/WAL-Service/pkg/errors"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// stubProducer satisfies Producer for factory tests.
type stubProducer struct {
	backend      wal.Backend
	health       wal.ProducerHealth
	disconnected atomic.Bool
}

func (s *stubProducer) Send(_ context.Context, _ *wal.ProducerMessage) (*wal.ProducerResult, error) {
	return &wal.ProducerResult{Success: true, Durable: true}, nil
}
func (s *stubProducer) SendBatch(_ context.Context, _ []*wal.ProducerMessage) ([]*wal.ProducerResult, error) {
	return nil, nil
}
func (s *stubProducer) HealthCheck(_ context.Context) bool { return s.health != wal.HealthUnhealthy }
func (s *stubProducer) HealthStatus(_ context.Context) wal.ProducerHealthEntry {
	return wal.ProducerHealthEntry{Status: s.health, LastCheck: time.Now()}
}
func (s *stubProducer) Connect(_ context.Context) error { return nil }
func (s *stubProducer) Disconnect(_ context.Context) error {
	s.disconnected.Store(true)
	return nil
}
func (s *stubProducer) Backend() wal.Backend   { return s.backend }
func (s *stubProducer) Metrics() ProducerStats { return ProducerStats{} }

func TestFallbackOrder_Table(t *testing.T) {
	cases := []struct {
		backend wal.Backend
		want    []wal.Backend
	}{
		{wal.BackendRedis, []wal.Backend{wal.BackendKafka, wal.BackendSQS}},
		{wal.BackendKafka, []wal.Backend{wal.BackendRedis, wal.BackendSQS}},
		{wal.BackendSQS, []wal.Backend{wal.BackendKafka, wal.BackendRedis}},
		{wal.Backend("mystery"), []wal.Backend{wal.BackendRedis, wal.BackendKafka, wal.BackendSQS}},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FallbackOrder(c.backend), "backend %s", c.backend)
	}
}

func newTestFactory(builders map[wal.Backend]Builder) *Factory {
	metrics := prometheus.NewAppMetrics(prometheus.NewNopCollector())
	return NewFactory(builders, time.Minute, metrics, logging.NewNopLogger())
}

func TestGet_CachesProducer(t *testing.T) {
	var builds atomic.Int64
	stub := &stubProducer{backend: wal.BackendRedis, health: wal.HealthHealthy}
	f := newTestFactory(map[wal.Backend]Builder{
		wal.BackendRedis: func(_ context.Context) (Producer, error) {
			builds.Add(1)
			return stub, nil
		},
	})

	ctx := context.Background()
	first, err := f.Get(ctx, wal.BackendRedis)
	require.NoError(t, err)
	second, err := f.Get(ctx, wal.BackendRedis)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), builds.Load())
}

func TestGet_SingleFlightAcrossConcurrentCallers(t *testing.T) {
	var builds atomic.Int64
	f := newTestFactory(map[wal.Backend]Builder{
		wal.BackendKafka: func(_ context.Context) (Producer, error) {
			builds.Add(1)
			time.Sleep(50 * time.Millisecond) // widen the race window
			return &stubProducer{backend: wal.BackendKafka, health: wal.HealthHealthy}, nil
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Get(context.Background(), wal.BackendKafka)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), builds.Load(), "construction must happen at most once")
}

func TestGet_UnknownBackend(t *testing.T) {
	f := newTestFactory(map[wal.Backend]Builder{})

	_, err := f.Get(context.Background(), wal.BackendRedis)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeProducerUnavailable))
}

func TestGet_CancelledDuringRetryBackoff(t *testing.T) {
	f := newTestFactory(map[wal.Backend]Builder{
		wal.BackendSQS: func(_ context.Context) (Producer, error) {
			return nil, assert.AnError
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx, wal.BackendSQS)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeTimeout))
}

func TestShutdown_DisconnectsAndClears(t *testing.T) {
	stub := &stubProducer{backend: wal.BackendRedis, health: wal.HealthHealthy}
	var builds atomic.Int64
	f := newTestFactory(map[wal.Backend]Builder{
		wal.BackendRedis: func(_ context.Context) (Producer, error) {
			builds.Add(1)
			return stub, nil
		},
	})

	_, err := f.Get(context.Background(), wal.BackendRedis)
	require.NoError(t, err)

	f.Shutdown(context.Background())
	assert.True(t, stub.disconnected.Load())

	// The producer cache was cleared: the next Get constructs afresh.
	_, err = f.Get(context.Background(), wal.BackendRedis)
	require.NoError(t, err)
	assert.Equal(t, int64(2), builds.Load())

	// Shutdown without StartHealthLoop must not hang (regression guard).
}

func TestHealth_EmptyUntilSampled(t *testing.T) {
	f := newTestFactory(map[wal.Backend]Builder{})
	_, ok := f.Health(wal.BackendRedis)
	assert.False(t, ok)
}
