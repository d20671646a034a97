package identity

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// PartitionFor maps key onto a partition in [0, n) using a 32-bit rolling
// hash over the key's code points:
//
//	h = ((h << 5) - h) + codepoint
//
// with int32 wraparound, then |h| mod n. The function is pure and stable:
// equal inputs always yield equal outputs, so a message keeps its partition
// across retries and process restarts.
func PartitionFor(key string, n int) int {
	if n <= 0 {
		return 0
	}
	var h int32
	for _, cp := range key {
		h = (h << 5) - h + int32(cp)
	}
	if h < 0 {
		// Negation of MinInt32 overflows back to itself; fold it to zero
		// rather than returning a negative partition.
		if h == -h {
			return 0
		}
		h = -h
	}
	return int(h) % n
}

// Strategy names accepted in namespace shard config.
const (
	StrategyHash       = "hash"
	StrategyRoundRobin = "round_robin"
	StrategyRandom     = "random"
	StrategyCustom     = "custom"
)

// Partitioner assigns partitions according to a namespace's shard strategy.
// It owns the per-namespace round-robin counters, so a single instance is
// shared by the whole pipeline.
type Partitioner struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewPartitioner returns an empty Partitioner.
func NewPartitioner() *Partitioner {
	return &Partitioner{counters: make(map[string]int)}
}

// Assign picks a partition in [0, n) for a message.
//
//   - hash: rolling hash of key.
//   - round_robin: per-namespace monotonic counter mod n.
//   - random: uniform.
//   - custom: hash of the value at extractKey's dot-path in payload;
//     falls back to hash of key when the path is absent.
//
// Unknown strategies behave as hash.
func (p *Partitioner) Assign(strategy, namespace, key string, payload map[string]interface{}, extractKey string, n int) int {
	if n <= 0 {
		return 0
	}
	switch strategy {
	case StrategyRoundRobin:
		p.mu.Lock()
		c := p.counters[namespace]
		p.counters[namespace] = c + 1
		p.mu.Unlock()
		return c % n
	case StrategyRandom:
		return rand.Intn(n)
	case StrategyCustom:
		if v, ok := ExtractPath(payload, extractKey); ok {
			return PartitionFor(fmt.Sprintf("%v", v), n)
		}
		return PartitionFor(key, n)
	default:
		return PartitionFor(key, n)
	}
}

// ExtractPath resolves a dot-notation path ("order.customer.id") inside a
// decoded JSON object. The second return is false when any segment is
// missing or a non-object is traversed.
func ExtractPath(payload map[string]interface{}, path string) (interface{}, bool) {
	if payload == nil || path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var current interface{} = payload
	for _, seg := range segments {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
