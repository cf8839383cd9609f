// Package ratelimit provides per-tenant admission control.
//
// Each tenant gets a token bucket; a weighted semaphore caps total
// in-flight searches across tenants. Admission runs before any datastore
// call, so a rejected request costs nothing downstream. The rejection
// message is generic: it never reveals limits or other tenants' load.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Sentinel errors for admission decisions.
var (
	// ErrRateLimited means the tenant's token bucket is empty.
	ErrRateLimited = errors.New("too many requests")

	// ErrAtCapacity means the global concurrency gate is full.
	ErrAtCapacity = errors.New("service at capacity")
)

// Config tunes the gate.
type Config struct {
	// RequestsPerSecond is the per-tenant refill rate.
	RequestsPerSecond float64

	// Burst is the per-tenant bucket size.
	Burst int

	// MaxConcurrent caps in-flight searches across all tenants.
	MaxConcurrent int64
}

// Gate is the combined rate limiter and concurrency gate.
type Gate struct {
	cfg Config
	sem *semaphore.Weighted

	mu       sync.Mutex
	limiters map[string]*tenantLimiter
}

type tenantLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a gate.
func New(cfg Config) *Gate {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 64
	}
	return &Gate{
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		limiters: make(map[string]*tenantLimiter),
	}
}

// Admit admits one request for a tenant. On success the returned release
// function must be called when the request finishes. Admission never
// blocks: a full bucket or a full gate rejects immediately.
func (g *Gate) Admit(ctx context.Context, tenantID string) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !g.limiterFor(tenantID).Allow() {
		return nil, ErrRateLimited
	}
	if !g.sem.TryAcquire(1) {
		return nil, ErrAtCapacity
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.sem.Release(1) })
	}, nil
}

// limiterFor returns the tenant's bucket, creating it on first use.
func (g *Gate) limiterFor(tenantID string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	tl, ok := g.limiters[tenantID]
	if !ok {
		tl = &tenantLimiter{
			limiter: rate.NewLimiter(rate.Limit(g.cfg.RequestsPerSecond), g.cfg.Burst),
		}
		g.limiters[tenantID] = tl
	}
	tl.lastSeen = time.Now()
	return tl.limiter
}

// Prune drops tenant buckets idle longer than maxIdle. Intended to run
// periodically from the server loop.
func (g *Gate) Prune(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	g.mu.Lock()
	defer g.mu.Unlock()
	pruned := 0
	for id, tl := range g.limiters {
		if tl.lastSeen.Before(cutoff) {
			delete(g.limiters, id)
			pruned++
		}
	}
	return pruned
}

// Tenants returns the number of tracked tenant buckets.
func (g *Gate) Tenants() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.limiters)
}
