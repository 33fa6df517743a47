package anomaly

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// CachingResolver memoizes successful lookups of another Resolver.
// Failures are not cached.
type CachingResolver struct {
	next    Resolver
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]cachedCountry

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type cachedCountry struct {
	country  string
	cachedAt time.Time
}

// CacheStats are cumulative cache counters.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// NewCachingResolver wraps next. Zero ttl or maxSize select 1h and 1024.
func NewCachingResolver(next Resolver, ttl time.Duration, maxSize int) *CachingResolver {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &CachingResolver{
		next:    next,
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		entries: make(map[string]cachedCountry),
	}
}

func (c *CachingResolver) ResolveCountry(ctx context.Context, ip string) (string, error) {
	ip = NormalizeIP(ip)
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[ip]
	c.mu.RUnlock()
	if ok && now.Sub(e.cachedAt) <= c.ttl {
		c.hits.Add(1)
		return e.country, nil
	}
	c.misses.Add(1)

	country, err := c.next.ResolveCountry(ctx, ip)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[ip]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[ip] = cachedCountry{country: country, cachedAt: now}
	return country, nil
}

func (c *CachingResolver) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.cachedAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.cachedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
		c.evictions.Add(1)
	}
}

// Stats returns the cache counters.
func (c *CachingResolver) Stats() CacheStats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
	}
}
