// Package ratelimit provides a fixed-window request counter used to enforce
// per-token rate limits. The in-memory implementation is only correct for a
// single process; multi-instance deployments should configure the Redis
// backend so all instances share one window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Counter counts requests per key within a fixed window. Allow reports
// whether the request under key stays within limit, incrementing the
// window's counter as a side effect.
type Counter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// MemoryCounter is a process-local fixed-window Counter. State is a plain
// map guarded by a mutex, reset lazily when a key's window expires.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*windowState
}

type windowState struct {
	count   int
	resetAt time.Time
}

// NewMemoryCounter creates an empty in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]*windowState)}
}

// Allow implements Counter.
func (c *MemoryCounter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &windowState{resetAt: now.Add(window)}
		c.windows[key] = w
	}

	if w.count >= limit {
		return false, nil
	}
	w.count++
	return true, nil
}
