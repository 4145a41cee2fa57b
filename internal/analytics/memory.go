package analytics

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter keeps error counts in process memory.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]float64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]float64)}
}

func (c *MemoryCounter) Add(_ context.Context, function string, at time.Time, window time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[buildKey(function, at, window)]++
	return nil
}

func (c *MemoryCounter) Sum(_ context.Context, function string, windowStart time.Time, window time.Duration) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[buildKey(function, windowStart, window)], nil
}
