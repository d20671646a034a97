package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/WAL-Service/pkg/errors"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// Factory tunables.
const (
	// constructAttempts bounds producer construction retries.
	constructAttempts = 3

	// constructBackoffBase is the first retry delay; subsequent attempts
	// double it.
	constructBackoffBase = time.Second

	// DefaultHealthInterval paces the background health sampler and bounds
	// the age of cached health entries.
	DefaultHealthInterval = 30 * time.Second
)

// Builder constructs a Producer for one backend kind.
type Builder func(ctx context.Context) (Producer, error)

// Factory lazily instantiates producers, caches them per backend, samples
// their health on an interval, and supplies the fallback ordering consulted
// by the ingestion pipeline. One Factory exists per process.
type Factory struct {
	log      logging.Logger
	metrics  *prometheus.AppMetrics
	interval time.Duration

	mu        sync.RWMutex
	builders  map[wal.Backend]Builder
	producers map[wal.Backend]Producer
	health    map[wal.Backend]wal.ProducerHealthEntry

	group singleflight.Group

	stopOnce sync.Once
	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewFactory constructs a Factory with the given per-backend builders.
// A non-positive interval falls back to DefaultHealthInterval.
func NewFactory(builders map[wal.Backend]Builder, interval time.Duration, metrics *prometheus.AppMetrics, log logging.Logger) *Factory {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &Factory{
		log:       log.Named("producer-factory"),
		metrics:   metrics,
		interval:  interval,
		builders:  builders,
		producers: make(map[wal.Backend]Producer),
		health:    make(map[wal.Backend]wal.ProducerHealthEntry),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Get returns the cached producer for backend, constructing it on first use.
// Construction is single-flighted across concurrent callers and attempted up
// to three times, with exponential backoff between attempts, before surfacing
// CodeProducerUnavailable.
func (f *Factory) Get(ctx context.Context, backend wal.Backend) (Producer, error) {
	f.mu.RLock()
	p, ok := f.producers[backend]
	f.mu.RUnlock()
	if ok {
		return p, nil
	}

	v, err, _ := f.group.Do(string(backend), func() (interface{}, error) {
		// Re-check under the group: a racing caller may have built it.
		f.mu.RLock()
		existing, ok := f.producers[backend]
		f.mu.RUnlock()
		if ok {
			return existing, nil
		}

		builder, ok := f.builders[backend]
		if !ok {
			return nil, errors.ProducerUnavailable(fmt.Sprintf("no driver registered for backend %q", backend))
		}

		var lastErr error
		for attempt := 1; attempt <= constructAttempts; attempt++ {
			built, err := builder(ctx)
			if err == nil {
				f.mu.Lock()
				f.producers[backend] = built
				f.mu.Unlock()
				f.log.Info("producer constructed",
					logging.String("backend", string(backend)),
					logging.Int("attempt", attempt))
				return built, nil
			}
			lastErr = err
			f.log.Warn("producer construction failed",
				logging.String("backend", string(backend)),
				logging.Int("attempt", attempt),
				logging.Err(err))
			if attempt < constructAttempts {
				backoff := constructBackoffBase << (attempt - 1)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil, errors.Timeout("producer construction cancelled").WithCause(ctx.Err())
				}
			}
		}
		return nil, errors.ProducerUnavailable(fmt.Sprintf("backend %q unavailable after %d attempts", backend, constructAttempts)).WithCause(lastErr)
	})
	if err != nil {
		return nil, err
	}
	return v.(Producer), nil
}

// FallbackOrder returns the alternative backends consulted, in order, when
// the given backend is unhealthy. The ingestion pipeline walks this list
// explicitly; Get never falls back silently.
func FallbackOrder(backend wal.Backend) []wal.Backend {
	switch backend {
	case wal.BackendRedis:
		return []wal.Backend{wal.BackendKafka, wal.BackendSQS}
	case wal.BackendKafka:
		return []wal.Backend{wal.BackendRedis, wal.BackendSQS}
	case wal.BackendSQS:
		return []wal.Backend{wal.BackendKafka, wal.BackendRedis}
	default:
		return []wal.Backend{wal.BackendRedis, wal.BackendKafka, wal.BackendSQS}
	}
}

// Health returns the cached health entry for backend, or a zero entry when
// the backend has never been sampled.
func (f *Factory) Health(backend wal.Backend) (wal.ProducerHealthEntry, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.health[backend]
	return e, ok
}

// StartHealthLoop launches the background sampler. It probes every
// instantiated producer on the factory interval, refreshes the health
// cache, updates the health gauge, and logs transitions to unhealthy.
func (f *Factory) StartHealthLoop() {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	go func() {
		defer close(f.doneCh)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.sampleAll()
			case <-f.stopCh:
				return
			}
		}
	}()
}

func (f *Factory) sampleAll() {
	f.mu.RLock()
	instantiated := make(map[wal.Backend]Producer, len(f.producers))
	for b, p := range f.producers {
		instantiated[b] = p
	}
	f.mu.RUnlock()

	for backend, p := range instantiated {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		entry := p.HealthStatus(ctx)
		cancel()

		f.mu.Lock()
		prev, had := f.health[backend]
		f.health[backend] = entry
		f.mu.Unlock()

		if f.metrics != nil {
			f.metrics.ProducerHealth.WithLabelValues(string(backend)).Set(prometheus.HealthValue(string(entry.Status)))
		}
		if entry.Status == wal.HealthUnhealthy && (!had || prev.Status != wal.HealthUnhealthy) {
			f.log.Warn("producer became unhealthy",
				logging.String("backend", string(backend)),
				logging.Any("details", entry.Details))
		}
	}
}

// Shutdown stops the health loop, disconnects every instantiated producer,
// and clears the caches. Disconnect failures are logged and do not abort
// the remaining producers.
func (f *Factory) Shutdown(ctx context.Context) {
	f.stopOnce.Do(func() {
		close(f.stopCh)
		f.mu.RLock()
		started := f.started
		f.mu.RUnlock()
		if started {
			<-f.doneCh
		}
	})

	f.mu.Lock()
	producers := f.producers
	f.producers = make(map[wal.Backend]Producer)
	f.health = make(map[wal.Backend]wal.ProducerHealthEntry)
	f.mu.Unlock()

	for backend, p := range producers {
		if err := p.Disconnect(ctx); err != nil {
			f.log.Warn("producer disconnect failed",
				logging.String("backend", string(backend)),
				logging.Err(err))
		}
	}
}
