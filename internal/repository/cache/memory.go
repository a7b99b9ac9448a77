package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache keeps tiles in process memory with optional expiration.
type MemoryCache struct {
	store *gocache.Cache
}

var _ TileCache = (*MemoryCache)(nil)

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl == 0 {
		ttl = gocache.NoExpiration
	}
	return &MemoryCache{
		store: gocache.New(ttl, 10*time.Minute),
	}
}

func (c *MemoryCache) Get(_ context.Context, k Key) (Entry, bool, error) {
	v, found := c.store.Get(k.String())
	if !found {
		return Entry{}, false, nil
	}
	return v.(Entry), true, nil
}

func (c *MemoryCache) Set(_ context.Context, k Key, e Entry) error {
	c.store.Set(k.String(), e, gocache.DefaultExpiration)
	return nil
}

func (c *MemoryCache) Has(_ context.Context, k Key) (bool, error) {
	_, found := c.store.Get(k.String())
	return found, nil
}

func (c *MemoryCache) Close() error {
	c.store.Flush()
	return nil
}
