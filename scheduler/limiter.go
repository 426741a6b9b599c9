package scheduler

import (
	"context"
	"sync"
	"time"
)

// RateLimiter paces dispatches per provider.
type RateLimiter interface {
	Wait(ctx context.Context, provider string) error
}

// IntervalLimiter enforces a minimum interval between dispatches of the same
// provider inside one process. The slot is reserved under the lock and the
// sleep happens outside it, so two tasks of one provider never both
// under-wait.
type IntervalLimiter struct {
	defaultInterval time.Duration
	intervals       map[string]time.Duration
	now             func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewIntervalLimiter(defaultInterval time.Duration, perProvider map[string]time.Duration) *IntervalLimiter {
	intervals := make(map[string]time.Duration, len(perProvider))
	for k, v := range perProvider {
		intervals[k] = v
	}
	return &IntervalLimiter{
		defaultInterval: defaultInterval,
		intervals:       intervals,
		now:             time.Now,
		last:            make(map[string]time.Time),
	}
}

// Interval returns the minimum spacing applied to provider.
func (l *IntervalLimiter) Interval(provider string) time.Duration {
	if d, ok := l.intervals[provider]; ok {
		return d
	}
	return l.defaultInterval
}

func (l *IntervalLimiter) Wait(ctx context.Context, provider string) error {
	wait := l.reserve(provider)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// reserve books the next dispatch slot for provider and returns how long the
// caller must sleep to reach it.
func (l *IntervalLimiter) reserve(provider string) time.Duration {
	interval := l.Interval(provider)
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if interval <= 0 {
		l.last[provider] = now
		return 0
	}
	slot := now
	if prev, ok := l.last[provider]; ok {
		if earliest := prev.Add(interval); earliest.After(now) {
			slot = earliest
		}
	}
	l.last[provider] = slot
	return slot.Sub(now)
}
