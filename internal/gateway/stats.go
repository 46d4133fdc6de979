package gateway

import (
	"sync"
	"sync/atomic"

	"smartrouter/internal/classify"
)

// Stats holds the process-wide request counters. They are owned by the
// gateway and injected into the handler, so tests can use a fresh instance.
// Reset only on process restart; never persisted.
type Stats struct {
	total  atomic.Int64
	errors atomic.Int64

	mu     sync.Mutex
	byTier map[classify.Tier]int64
}

func NewStats() *Stats {
	return &Stats{byTier: make(map[classify.Tier]int64)}
}

func (s *Stats) RecordRequest(tier classify.Tier) {
	s.total.Add(1)
	s.mu.Lock()
	s.byTier[tier]++
	s.mu.Unlock()
}

func (s *Stats) RecordError() {
	s.errors.Add(1)
}

// Snapshot returns a copy suitable for the health endpoint.
func (s *Stats) Snapshot() map[string]any {
	s.mu.Lock()
	byTier := make(map[string]int64, len(s.byTier))
	for tier, n := range s.byTier {
		byTier[string(tier)] = n
	}
	s.mu.Unlock()
	return map[string]any{
		"total":   s.total.Load(),
		"errors":  s.errors.Load(),
		"by_tier": byTier,
	}
}

// Gate is the global concurrency gate for chat-completion requests.
// Requests beyond the cap are rejected outright, not queued: this is
// admission control, not a scheduler.
type Gate struct {
	active atomic.Int64
	cap    int64
}

func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	return &Gate{cap: int64(capacity)}
}

// TryAcquire claims a slot. Every successful acquire must be paired with a
// deferred Release so the slot is returned on all exit paths.
func (g *Gate) TryAcquire() bool {
	if g.active.Add(1) > g.cap {
		g.active.Add(-1)
		return false
	}
	return true
}

func (g *Gate) Release() {
	g.active.Add(-1)
}

// Active reports the in-flight request count, used by shutdown draining.
func (g *Gate) Active() int64 {
	return g.active.Load()
}
