// Package ratelimit provides per-endpoint flood control for the
// datagram and voice servers (C7/C8), which have no stream socket to
// rely on for back-pressure.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// PerEndpoint tracks one token-bucket limiter per remote endpoint. An
// entry is removed only by an explicit Forget; idle entries are not
// evicted.
type PerEndpoint struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	rps   rate.Limit
	burst int
}

// NewPerEndpoint constructs a limiter set allowing rps datagrams/sec per
// endpoint, with the given burst allowance.
func NewPerEndpoint(rps float64, burst int) *PerEndpoint {
	return &PerEndpoint{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether a datagram from key may proceed, creating a
// fresh limiter for previously-unseen endpoints.
func (p *PerEndpoint) Allow(key string) bool {
	p.mu.Lock()
	lim, ok := p.limiters[key]
	if !ok {
		lim = rate.NewLimiter(p.rps, p.burst)
		p.limiters[key] = lim
	}
	p.mu.Unlock()

	return lim.Allow()
}

// Forget evicts a key's limiter, e.g. once its endpoint binding ends.
func (p *PerEndpoint) Forget(key string) {
	p.mu.Lock()
	delete(p.limiters, key)
	p.mu.Unlock()
}
