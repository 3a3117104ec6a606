package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/ledgerguard/pkg/clock"
)

type window struct {
	count     int
	expiresAt time.Time
}

// defaultSweepEvery is how many Hits pass between sweeps of expired windows.
const defaultSweepEvery = 1024

// MemoryLimiter is a single-process Limiter used when Redis is not configured.
// Expired windows are dropped on the next access to their key, and every
// sweepEvery hits all expired windows are swept, so keys that are never
// retried do not accumulate.
type MemoryLimiter struct {
	mu         sync.Mutex
	windows    map[string]*window
	clock      clock.Clock
	sweepEvery int
	hits       int
}

func NewMemoryLimiter(c clock.Clock) *MemoryLimiter {
	if c == nil {
		c = clock.System()
	}
	return &MemoryLimiter{
		windows:    make(map[string]*window),
		clock:      c,
		sweepEvery: defaultSweepEvery,
	}
}

// live returns the unexpired window for key. Caller holds mu.
func (l *MemoryLimiter) live(key string, now time.Time) *window {
	w, ok := l.windows[key]
	if !ok {
		return nil
	}
	if !now.Before(w.expiresAt) {
		delete(l.windows, key)
		return nil
	}
	return w
}

// sweep drops every expired window. Caller holds mu.
func (l *MemoryLimiter) sweep(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.expiresAt) {
			delete(l.windows, key)
		}
	}
}

func (l *MemoryLimiter) Hit(_ context.Context, key string, decay time.Duration) (int, error) {
	if decay <= 0 {
		decay = time.Minute
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.hits++
	if l.hits >= l.sweepEvery {
		l.hits = 0
		l.sweep(now)
	}

	w := l.live(key, now)
	if w == nil {
		w = &window{expiresAt: now.Add(decay)}
		l.windows[key] = w
	}
	w.count++
	return w.count, nil
}

func (l *MemoryLimiter) TooManyAttempts(_ context.Context, key string, maxAttempts int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.live(key, l.clock.Now())
	if w == nil {
		return false, nil
	}
	return w.count >= maxAttempts, nil
}

func (l *MemoryLimiter) AvailableIn(_ context.Context, key string) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w := l.live(key, now)
	if w == nil {
		return 0, nil
	}
	return w.expiresAt.Sub(now), nil
}

func (l *MemoryLimiter) Clear(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.windows, key)
	return nil
}
