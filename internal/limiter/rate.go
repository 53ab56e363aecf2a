package limiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate is a per-key token bucket registry. Idle buckets are evicted by Sweep.
type Gate struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewGate allows rps requests per second per key with the given burst.
// A non-positive rps disables the gate.
func NewGate(rps float64, burst int) *Gate {
	if burst <= 0 {
		burst = 1
	}
	lim := rate.Limit(rps)
	if rps <= 0 {
		lim = rate.Inf
	}
	return &Gate{
		limit:   lim,
		burst:   burst,
		idle:    10 * time.Minute,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes one token for key.
func (g *Gate) Allow(key string) bool {
	if g == nil || g.limit == rate.Inf {
		return true
	}
	now := g.now()
	g.mu.Lock()
	b, ok := g.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(g.limit, g.burst)}
		g.buckets[key] = b
	}
	b.lastSeen = now
	g.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

// Sweep drops buckets unused for longer than the idle period and returns how many were removed.
func (g *Gate) Sweep() int {
	if g == nil {
		return 0
	}
	cutoff := g.now().Add(-g.idle)
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for k, b := range g.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(g.buckets, k)
			n++
		}
	}
	return n
}

// Len reports how many keys are tracked.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buckets)
}
