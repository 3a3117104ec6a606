// Package ratelimit counts attempts per key inside a fixed window.
package ratelimit

import (
	"context"
	"time"
)

// Limiter is the attempt counter consulted before credentials are checked.
//
// Implementations must increment atomically: concurrent Hits on the same key,
// from any number of processes, are all counted.
type Limiter interface {
	// Hit records one attempt. The first hit on a key opens a window of length
	// decay; later hits inside the window do not extend it. Returns the count.
	Hit(ctx context.Context, key string, decay time.Duration) (int, error)

	// TooManyAttempts reports whether the key has reached maxAttempts in its
	// current window.
	TooManyAttempts(ctx context.Context, key string, maxAttempts int) (bool, error)

	// AvailableIn returns how long until the key's window closes.
	AvailableIn(ctx context.Context, key string) (time.Duration, error)

	// Clear removes all counters for the key immediately.
	Clear(ctx context.Context, key string) error
}

// SecondsUntil rounds d up to whole seconds, with a floor of one second so
// callers never advertise a zero wait while still throttled.
func SecondsUntil(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
