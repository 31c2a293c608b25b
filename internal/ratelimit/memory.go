// Package ratelimit provides per-user sliding-window admission control.
// Two backends exist: an in-process limiter for single-process deployments
// and a Redis-backed limiter shared across workers. State is not persisted
// across restarts; a reset window after an outage is acceptable.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a mutex-guarded sliding-window limiter keyed by user ID.
//
// The counter lives in process memory, so under a multi-process deployment
// each worker enforces its own window and the effective limit multiplies.
// Use RedisLimiter when more than one worker handles chat traffic.
type MemoryLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[uint][]time.Time
	now    func() time.Time
}

// NewMemoryLimiter creates a limiter admitting up to limit requests per user
// within the trailing window.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		hits:   make(map[uint][]time.Time),
		now:    time.Now,
	}
}

// Admit checks and records atomically under one lock: two concurrent requests
// from the same user cannot both take the last slot.
func (l *MemoryLimiter) Admit(_ context.Context, userID uint) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	recent := l.hits[userID][:0]
	for _, t := range l.hits[userID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.limit {
		l.hits[userID] = recent
		return false, nil
	}

	l.hits[userID] = append(recent, now)
	return true, nil
}
