package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter caps calls per key in fixed windows. Quote requests hit the carrier directly.
type rateLimiter interface {
	Allow(key string) bool
}

type windowRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]rateWindow
}

type rateWindow struct {
	count int
	reset time.Time
}

func newWindowRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowRateLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]rateWindow),
	}
}

func (l *windowRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || now.After(entry.reset) {
		l.store[key] = rateWindow{count: 1, reset: now.Add(l.window)}
		l.pruneLocked(now)
		return true
	}
	if entry.count >= l.limit {
		return false
	}
	entry.count++
	l.store[key] = entry
	return true
}

func (l *windowRateLimiter) pruneLocked(now time.Time) {
	for key, entry := range l.store {
		if now.After(entry.reset) {
			delete(l.store, key)
		}
	}
}
