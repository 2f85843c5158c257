package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Local is a per-key token bucket held in process memory. Buckets refill at
// limit/window and hold at most limit tokens.
//
// A full bucket behaves exactly like a new one, so buckets that have refilled
// are dropped once per window. Memory is bounded by the keys seen in the last
// window.
type Local struct {
	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
	limit     int64
	window    time.Duration
	every     rate.Limit
	lastSweep time.Time
	now       func() time.Time
}

func NewLocal(limit int64, window time.Duration) *Local {
	if limit <= 0 || window <= 0 {
		panic("ratelimit: limit and window must be > 0")
	}
	return &Local{
		buckets: make(map[string]*rate.Limiter),
		limit:   limit,
		window:  window,
		every:   rate.Every(window / time.Duration(limit)),
		now:     time.Now,
	}
}

func (l *Local) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	l.sweepLocked(now)
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.every, int(l.limit))
		l.buckets[key] = b
	}
	l.mu.Unlock()

	r := b.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Limit: l.limit}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, Limit: l.limit, Remaining: 0, Reset: delay}, nil
	}

	return Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: int64(b.TokensAt(now)),
	}, nil
}

// Len reports the number of live buckets.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Local) sweepLocked(now time.Time) {
	if l.lastSweep.IsZero() {
		l.lastSweep = now
		return
	}
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for k, b := range l.buckets {
		if b.TokensAt(now) >= float64(l.limit) {
			delete(l.buckets, k)
		}
	}
}
