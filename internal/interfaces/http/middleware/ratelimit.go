package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// RateLimitConfig holds the token-bucket parameters applied per caller.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int

	// SkipPaths bypass limiting (health and metrics probes).
	SkipPaths []string

	// CleanupInterval paces eviction of idle limiter entries.
	CleanupInterval time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token bucket over golang.org/x/time/rate. The
// key is the caller's API key when present, otherwise the client IP, so a
// single credential cannot starve the others.
type RateLimiter struct {
	cfg RateLimitConfig
	log logging.Logger

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

// NewRateLimiter constructs a RateLimiter and starts its idle-entry
// cleanup loop.
func NewRateLimiter(cfg RateLimitConfig, log logging.Logger) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	rl := &RateLimiter{
		cfg:     cfg,
		log:     log.Named("ratelimit"),
		entries: make(map[string]*limiterEntry),
	}
	go rl.cleanupLoop()
	return rl
}

// SetRate applies new bucket parameters. Existing per-key buckets are
// dropped so every caller picks up the new limits immediately; used by the
// config hot-reload path.
func (rl *RateLimiter) SetRate(requestsPerSecond float64, burst int) {
	if requestsPerSecond <= 0 {
		return
	}
	if burst <= 0 {
		burst = int(requestsPerSecond * 2)
	}
	rl.mu.Lock()
	rl.cfg.RequestsPerSecond = requestsPerSecond
	rl.cfg.Burst = burst
	rl.entries = make(map[string]*limiterEntry)
	rl.mu.Unlock()
	rl.log.Info("rate limit updated",
		logging.Any("requests_per_second", requestsPerSecond),
		logging.Int("burst", burst))
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	entry, ok := rl.entries[key]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst),
		}
		rl.entries[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-3 * rl.cfg.CleanupInterval)
		rl.mu.Lock()
		for key, entry := range rl.entries {
			if entry.lastSeen.Before(cutoff) {
				delete(rl.entries, key)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) key(r *http.Request) string {
	if key := ContextAPIKey(r.Context()); key != "" {
		return "key:" + wal.MaskAPIKey(key)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

// Handler returns the middleware. Exhausted callers receive 429 with a
// Retry-After hint.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	skip := make(map[string]bool, len(rl.cfg.SkipPaths))
	for _, p := range rl.cfg.SkipPaths {
		skip[p] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skip[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.limiterFor(rl.key(r)).Allow() {
			w.Header().Set("Retry-After", strconv.Itoa(1))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"code":    "RATE_LIMITED",
				"message": "request rate exceeded",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
