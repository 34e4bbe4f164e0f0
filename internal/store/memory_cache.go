package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryBalanceCache implements BalanceCache in process memory. A single
// mutex gives every operation the same atomicity the Redis scripts provide.
// Entries never expire.
type MemoryBalanceCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	dirty   map[string]struct{}
}

type cacheEntry struct {
	delta     int64
	watermark int64
}

// NewMemoryBalanceCache creates an empty in-memory balance cache.
func NewMemoryBalanceCache() *MemoryBalanceCache {
	return &MemoryBalanceCache{
		entries: make(map[string]*cacheEntry),
		dirty:   make(map[string]struct{}),
	}
}

func (c *MemoryBalanceCache) AddDeltaAndWatermark(_ context.Context, code string, delta, watermark int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[code]
	if !ok {
		e = &cacheEntry{}
		c.entries[code] = e
	}
	e.delta += delta
	if watermark > e.watermark {
		e.watermark = watermark
	}
	return nil
}

func (c *MemoryBalanceCache) GetAndResetDeltaWithWatermark(_ context.Context, code string) (int64, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[code]
	if !ok {
		return 0, 0, nil
	}
	delta := e.delta
	e.delta = 0
	return delta, e.watermark, nil
}

func (c *MemoryBalanceCache) MarkDirty(_ context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dirty[code] = struct{}{}
	return nil
}

func (c *MemoryBalanceCache) ClearDirty(_ context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.dirty, code)
	return nil
}

func (c *MemoryBalanceCache) GetDirtyAccounts(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	codes := make([]string, 0, len(c.dirty))
	for code := range c.dirty {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

func (c *MemoryBalanceCache) GetRealTimeBalance(_ context.Context, code string, snapshotBalance int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[code]; ok {
		return snapshotBalance + e.delta, nil
	}
	return snapshotBalance, nil
}

// Watermark returns the cached watermark for an account. Intended for tests.
func (c *MemoryBalanceCache) Watermark(code string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[code]; ok {
		return e.watermark
	}
	return 0
}
