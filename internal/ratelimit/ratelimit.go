// Package ratelimit implements the sliding-window counter used by push
// providers and the "rate_limit" middleware stage.
package ratelimit

import (
	"sync"
	"time"
)

// state is the per-key sliding window: a set of event timestamps within
// the trailing window. Allow and Remaining never drop a key; a key is
// removed only when Sweep runs after its window has fully elapsed, and
// nothing in this repository calls Sweep.
type state struct {
	mu     sync.Mutex
	events []time.Time
}

// Limiter enforces a limit/window sliding-window policy per key (global,
// provider name, or an account-set signature — callers choose the key).
type Limiter struct {
	limit  int
	window time.Duration

	mu    sync.Mutex
	byKey map[string]*state
}

func New(limit int, window time.Duration) *Limiter {
	return &Limiter{limit: limit, window: window, byKey: make(map[string]*state)}
}

func (l *Limiter) stateFor(key string) *state {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.byKey[key]
	if !ok {
		s = &state{}
		l.byKey[key] = s
	}
	return s
}

// Allow records an attempt at key and reports whether it is within the
// limit. On refusal, retryAfter is the duration until the oldest event in
// the window expires and a slot frees up.
func (l *Limiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	s := l.stateFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	kept := s.events[:0]
	for _, t := range s.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.events = kept

	if len(s.events) >= l.limit {
		oldest := s.events[0]
		return false, oldest.Add(l.window).Sub(now)
	}

	s.events = append(s.events, now)
	return true, 0
}

// Remaining reports how many more events key may record in the current
// window without being refused.
func (l *Limiter) Remaining(key string) int {
	s := l.stateFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)
	count := 0
	for _, t := range s.events {
		if t.After(cutoff) {
			count++
		}
	}

	remaining := l.limit - count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Sweep reclaims keys whose window has fully elapsed since their last
// event, bounding memory use for rate limiters with many transient keys
// (e.g. per-account-set scopes). Intended to be called periodically.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.window)
	for key, s := range l.byKey {
		s.mu.Lock()
		empty := len(s.events) == 0 || s.events[len(s.events)-1].Before(cutoff)
		s.mu.Unlock()
		if empty {
			delete(l.byKey, key)
		}
	}
}
