package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

// MemoryCache is an in-process TTL cache of resolved quotes.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	quote     domain.Quote
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (domain.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return domain.Quote{}, false
	}
	return e.quote, true
}

func (c *MemoryCache) Set(_ context.Context, key string, q domain.Quote, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = cacheEntry{quote: q, expiresAt: now.Add(ttl)}

	// Opportunistic sweep so markets that stopped being polled don't pile up.
	if len(c.entries) > 1024 {
		for k, e := range c.entries {
			if !now.Before(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
}
