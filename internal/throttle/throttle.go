// Package throttle rate-limits verification attempts. It hangs off the
// lifecycle event bus rather than the verification state machine, so it can
// be disabled or swapped without touching either.
package throttle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTooManyAttempts is returned when a key has exhausted its attempt budget
// for the current window.
var ErrTooManyAttempts = errors.New("too many attempts")

// Limiter is the attempt budget contract. Consume spends one unit for key and
// fails with ErrTooManyAttempts when the budget is gone; Reset restores the
// full budget.
type Limiter interface {
	Consume(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

type window struct {
	timestamp int64
	cnt       int64
}

// FixedWindowLimiter is an in-memory fixed-window limiter with per-key atomic
// counters. Suitable for single-instance deployments and tests.
type FixedWindowLimiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	interval int64
	rate     int64
}

// NewFixedWindowLimiter allows rate attempts per key per interval.
func NewFixedWindowLimiter(interval time.Duration, rate int64) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		windows:  make(map[string]*window),
		interval: interval.Nanoseconds(),
		rate:     rate,
	}
}

func (l *FixedWindowLimiter) windowFor(key string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok {
		w = &window{timestamp: time.Now().UnixNano()}
		l.windows[key] = w
	}
	return w
}

// Consume spends one attempt for key.
func (l *FixedWindowLimiter) Consume(ctx context.Context, key string) error {
	w := l.windowFor(key)
	current := time.Now().UnixNano()
	timestamp := atomic.LoadInt64(&w.timestamp)
	if current-timestamp >= l.interval {
		if atomic.CompareAndSwapInt64(&w.timestamp, timestamp, current) {
			atomic.StoreInt64(&w.cnt, 0)
		}
	}
	if atomic.AddInt64(&w.cnt, 1) > l.rate {
		return ErrTooManyAttempts
	}
	return nil
}

// Reset restores the full budget for key.
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
	return nil
}
