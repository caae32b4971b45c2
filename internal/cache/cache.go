package cache

import (
	"context"
	"sync"
	"time"

	"pdv/backend/internal/domain"
)

// DashboardCache holds computed dashboard summaries keyed by period.
// Invalidate drops every cached entry at once and bumps the generation.
// Callers read Generation before computing a value and pass it to Set; a
// value computed under an older generation is never stored.
type DashboardCache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, key string) (*domain.DashboardSummary, bool, error)
	Set(ctx context.Context, generation int64, key string, value *domain.DashboardSummary, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopDashboardCache struct{}

func (NoopDashboardCache) Generation(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopDashboardCache) Get(_ context.Context, _ string) (*domain.DashboardSummary, bool, error) {
	return nil, false, nil
}

func (NoopDashboardCache) Set(_ context.Context, _ int64, _ string, _ *domain.DashboardSummary, _ time.Duration) error {
	return nil
}

func (NoopDashboardCache) Invalidate(_ context.Context) error {
	return nil
}

type memoryEntry struct {
	value     domain.DashboardSummary
	expiresAt time.Time
}

// MemoryDashboardCache is a process-local cache for single-instance runs.
type MemoryDashboardCache struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	generation int64
	now        func() time.Time
}

func NewMemoryDashboardCache() *MemoryDashboardCache {
	return &MemoryDashboardCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryDashboardCache) Generation(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, nil
}

func (c *MemoryDashboardCache) Get(_ context.Context, key string) (*domain.DashboardSummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	value := entry.value
	return &value, true, nil
}

func (c *MemoryDashboardCache) Set(_ context.Context, generation int64, key string, value *domain.DashboardSummary, ttl time.Duration) error {
	if value == nil || ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return nil
	}
	c.entries[key] = memoryEntry{value: *value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryDashboardCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	clear(c.entries)
	return nil
}
