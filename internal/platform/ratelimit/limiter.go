// Package ratelimit provides the request rate limiting contract used by the
// HTTP layer. The built-in implementation keeps its counters in process
// memory, so it only limits correctly when the API runs as a single instance.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Decision is the outcome of a single rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether a keyed request may proceed. Implementations must
// be safe for concurrent use.
type Limiter interface {
	Check(key string) Decision
}

type slidingWindow struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu    sync.Mutex
	store map[string][]time.Time
}

// NewSlidingWindow builds an in-process sliding-window limiter allowing up to
// limit requests per key within the trailing window. A nil clock uses
// time.Now. Returns nil when the parameters disable limiting.
func NewSlidingWindow(limit int, window time.Duration, clock func() time.Time) Limiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &slidingWindow{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string][]time.Time),
	}
}

func (l *slidingWindow) Check(key string) Decision {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}

	now := l.clock()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.store[key]
	kept := hits[:0]
	for _, at := range hits {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	if len(kept) >= l.limit {
		l.store[key] = kept
		return Decision{Allowed: false, Remaining: 0, ResetAt: kept[0].Add(l.window)}
	}

	kept = append(kept, now)
	l.store[key] = kept
	l.pruneLocked(cutoff)

	return Decision{Allowed: true, Remaining: l.limit - len(kept), ResetAt: kept[0].Add(l.window)}
}

func (l *slidingWindow) pruneLocked(cutoff time.Time) {
	for key, hits := range l.store {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(l.store, key)
		}
	}
}
