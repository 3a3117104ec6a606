package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for timing attack prevention
type TimingConfig struct {
	BaseDelay      time.Duration // Floor for a failed attempt's total duration
	RandomDelay    time.Duration // Uniform jitter added on top of BaseDelay
	DelayOnSuccess bool
}

// DefaultTimingConfig pads failures to roughly the cost of a bcrypt compare.
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		BaseDelay:   250 * time.Millisecond,
		RandomDelay: 100 * time.Millisecond,
	}
}

// TimingDelay pads authentication responses so that failure kinds cannot be
// told apart by latency.
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// cryptoRandDuration returns a uniform duration in [0, max).
func cryptoRandDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(b[:]) % uint64(max))
}

// WaitFrom sleeps until at least the target delay has elapsed since start.
// Returns early if ctx is cancelled.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}

	target := td.config.BaseDelay + cryptoRandDuration(td.config.RandomDelay)
	remaining := target - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
