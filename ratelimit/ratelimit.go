// Package ratelimit provides sliding-window admission control for
// outbound sends, plus the debounce gate for the user-visible notice
// shown when messages are dropped.
package ratelimit

import (
	"sync"
	"time"
)

const (
	window         = time.Minute
	noticeCooldown = 5 * time.Second

	// Ceiling bounds mirror the configuration clamp.
	MinPerMinute     = 1
	MaxPerMinute     = 600
	DefaultPerMinute = 45
)

// Limiter admits at most limit sends per trailing minute. Prune, check
// and append happen under one lock so concurrent callers cannot
// over-admit.
type Limiter struct {
	mu         sync.Mutex
	limit      int
	history    []time.Time
	lastNotice time.Time

	now func() time.Time
}

func New(limit int) *Limiter {
	if limit < MinPerMinute || limit > MaxPerMinute {
		limit = DefaultPerMinute
	}
	return &Limiter{limit: limit, now: time.Now}
}

// TryAcquire claims a send slot. A rejected acquire is final; callers
// drop the message rather than retry.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit <= 0 {
		return false
	}

	now := l.now()
	l.prune(now)
	if len(l.history) >= l.limit {
		return false
	}
	l.history = append(l.history, now)
	return true
}

// InUse reports how many slots are consumed in the current window.
func (l *Limiter) InUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.history)
}

// Limit returns the configured ceiling.
func (l *Limiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// SetLimit updates the ceiling, clamped to the allowed range.
func (l *Limiter) SetLimit(limit int) {
	if limit < MinPerMinute || limit > MaxPerMinute {
		limit = DefaultPerMinute
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = limit
}

// NoticeDue reports whether a drop notice may be shown now. At most one
// notice per cooldown period, no matter how many drops occur.
func (l *Limiter) NoticeDue() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastNotice) < noticeCooldown {
		return false
	}
	l.lastNotice = now
	return true
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.history) && l.history[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.history = append(l.history[:0], l.history[i:]...)
	}
}
