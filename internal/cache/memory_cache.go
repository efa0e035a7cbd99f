package cache

import (
	"context"
	"sync"
	"time"

	"shopledger/backend/internal/domain"
)

type memoryEntry struct {
	stats     domain.DashboardStats
	expiresAt time.Time
}

// MemoryStatsCache is the in-process fallback used when Redis is not configured.
type MemoryStatsCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStatsCache() *MemoryStatsCache {
	return &MemoryStatsCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryStatsCache) Get(_ context.Context, ownerID string) (*domain.DashboardStats, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[ownerID]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, ownerID)
		return nil, false, nil
	}
	stats := entry.stats
	return &stats, true, nil
}

func (c *MemoryStatsCache) Set(_ context.Context, ownerID string, value *domain.DashboardStats, ttl time.Duration) error {
	if value == nil || ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ownerID] = memoryEntry{stats: *value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryStatsCache) Invalidate(_ context.Context, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ownerID)
	return nil
}
