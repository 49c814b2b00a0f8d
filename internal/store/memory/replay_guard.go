package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// ReplayGuard is the in-process domain.ReplayGuard used in standalone mode.
// Expired keys are swept lazily, at most once per sweepEvery.
type ReplayGuard struct {
	mu         sync.Mutex
	seen       map[string]time.Time // key -> expiry
	now        func() time.Time
	sweepEvery time.Duration
	lastSweep  time.Time
}

// NewReplayGuard creates an empty ReplayGuard.
func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{
		seen:       make(map[string]time.Time),
		now:        time.Now,
		sweepEvery: time.Minute,
	}
}

// Seen records key for ttl and reports whether it was already recorded and
// not yet expired.
func (g *ReplayGuard) Seen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastSweep) >= g.sweepEvery {
		g.sweep(now)
	}

	if exp, ok := g.seen[key]; ok && now.Before(exp) {
		return true, nil
	}
	g.seen[key] = now.Add(ttl)
	return false, nil
}

// Len returns the number of remembered keys, expired or not.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

func (g *ReplayGuard) sweep(now time.Time) {
	for k, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, k)
		}
	}
	g.lastSweep = now
}

var _ domain.ReplayGuard = (*ReplayGuard)(nil)
