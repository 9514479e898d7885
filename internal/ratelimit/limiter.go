package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Class orders callers by urgency. Burst headroom above the per-second
// baseline is reserved for the higher classes so interactive work is never
// starved by background refreshes.
type Class string

const (
	ClassWebhook    Class = "webhook"
	ClassUser       Class = "user"
	ClassBackground Class = "background"
)

const windowSize = time.Second

// Limiter paces calls to a single provider with a sliding one-second window.
type Limiter struct {
	mu        sync.Mutex
	perSecond int
	burst     int
	window    []time.Time

	now func() time.Time
}

// Stats is a point-in-time snapshot of limiter state.
type Stats struct {
	RequestsInWindow  int
	MaxRequests       int
	RemainingRequests int
}

// New creates a limiter allowing perSecond baseline requests with burst
// capacity reserved for high-priority classes. A burst below the baseline is
// raised to it.
func New(perSecond, burst int) *Limiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst < perSecond {
		burst = perSecond
	}
	return &Limiter{
		perSecond: perSecond,
		burst:     burst,
		now:       time.Now,
	}
}

// SetClock overrides the limiter clock. Test hook.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now != nil {
		l.now = now
	}
}

// limitFor returns the window ceiling a class may fill. Background work is
// held to the baseline, webhooks may consume the full burst, and user
// requests sit halfway in between.
func (l *Limiter) limitFor(class Class) int {
	switch class {
	case ClassWebhook:
		return l.burst
	case ClassUser:
		return l.perSecond + (l.burst-l.perSecond+1)/2
	default:
		return l.perSecond
	}
}

// Execute waits for a request slot appropriate to the caller's class, then
// invokes fn. The wait suspends on a timer and honors context cancellation;
// no OS thread is blocked.
func (l *Limiter) Execute(ctx context.Context, class Class, fn func(context.Context) error) error {
	for {
		wait, ok := l.tryAcquire(class)
		if ok {
			return fn(ctx)
		}
		if err := sleepContext(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Limiter) tryAcquire(class Class) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if len(l.window) < l.limitFor(class) {
		l.window = append(l.window, now)
		return 0, true
	}

	wait := l.window[0].Add(windowSize).Sub(now)
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait, false
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-windowSize)
	idx := 0
	for idx < len(l.window) && !l.window[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.window = append(l.window[:0], l.window[idx:]...)
	}
}

// Stats reports current window usage.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return Stats{
		RequestsInWindow:  len(l.window),
		MaxRequests:       l.burst,
		RemainingRequests: l.burst - len(l.window),
	}
}

// Reset clears all window state.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.window = l.window[:0]
}

// sleepContext blocks for the given duration, returning early if the context
// is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
