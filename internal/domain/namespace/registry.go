package namespace

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/WAL-Service/pkg/errors"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// DefaultCacheTTL bounds staleness of cached policy entries.
const DefaultCacheTTL = 60 * time.Second

type cacheEntry struct {
	ns        *Namespace
	expiresAt time.Time
}

// RegistryStats is a snapshot of cache behaviour for the status route.
type RegistryStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// Registry provides cached, validated access to namespace policy. Reads are
// served from an in-process TTL cache; misses are fetched from the Store
// with singleflight so concurrent lookups of the same name produce one
// store round trip.
type Registry struct {
	store Store
	ttl   time.Duration
	log   logging.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
	hits  int64
	miss  int64

	group singleflight.Group
}

// NewRegistry constructs a Registry over store. A non-positive ttl falls
// back to DefaultCacheTTL.
func NewRegistry(store Store, ttl time.Duration, log logging.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Registry{
		store: store,
		ttl:   ttl,
		log:   log,
		cache: make(map[string]cacheEntry),
	}
}

// Get returns the policy for name. Names are case-insensitive; lookups are
// performed on the lowercase form. Expired entries are re-fetched; a stale
// entry may be served for up to the TTL after a policy change.
func (r *Registry) Get(ctx context.Context, name string) (*Namespace, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, errors.Validation("namespace name is required")
	}
	if len(key) > MaxNameLength {
		return nil, errors.Validation(fmt.Sprintf("namespace name exceeds %d characters", MaxNameLength))
	}

	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		r.mu.Lock()
		r.hits++
		r.mu.Unlock()
		return entry.ns, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		ns, err := r.store.GetByName(ctx, key)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.miss++
		r.cache[key] = cacheEntry{ns: ns, expiresAt: time.Now().Add(r.ttl)}
		r.mu.Unlock()
		return ns, nil
	})
	if err != nil {
		if errors.IsCode(err, errors.CodeNamespaceNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "namespace lookup failed")
	}
	return v.(*Namespace), nil
}

// Invalidate drops the cached entry for name, forcing the next Get to hit
// the store. Used when an admin mutation is observed.
func (r *Registry) Invalidate(name string) {
	key := strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	delete(r.cache, key)
	r.mu.Unlock()
}

// Stats returns a snapshot of cache counters.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RegistryStats{Hits: r.hits, Misses: r.miss, Entries: len(r.cache)}
}

// Validate enforces namespace policy against an intent, in order:
// enabled → message size → delay bound → target types. Existence is the
// caller's concern (a nil ns panics by design: Get must run first). Each
// failure maps to its own error kind so HTTP codes and metrics labels stay
// distinct.
func (r *Registry) Validate(ns *Namespace, intent *wal.WriteIntent) error {
	if !ns.Enabled {
		return errors.NamespaceDisabled(ns.Name)
	}

	size, err := wal.PayloadSize(intent.Payload)
	if err != nil {
		return errors.Validation("payload must be a JSON-serialisable object").WithCause(err)
	}
	if limit := ns.EffectiveMaxMessageSize(); size > limit {
		return errors.Validation("payload exceeds namespace maxMessageSize").
			WithDetail(fmt.Sprintf("size=%d limit=%d", size, limit))
	}

	if intent.Lifecycle != nil && intent.Lifecycle.DelaySeconds > 0 {
		if max := ns.EffectiveMaxDelaySeconds(); intent.Lifecycle.DelaySeconds > max {
			return errors.Validation("lifecycle.delay exceeds namespace maxDelaySeconds").
				WithDetail(fmt.Sprintf("delay=%d limit=%d", intent.Lifecycle.DelaySeconds, max))
		}
	}

	if ns.TargetConfig != nil {
		for i, target := range intent.Target {
			if target.Type != ns.TargetConfig.Type {
				return errors.Validation("target type not permitted by namespace policy").
					WithDetail(fmt.Sprintf("target[%d].type=%s allowed=%s", i, target.Type, ns.TargetConfig.Type))
			}
		}
	}

	return nil
}
