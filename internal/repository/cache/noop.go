package cache

import "context"

// NoopCache never stores anything. Every lookup is a miss, so each request
// regenerates from the source.
type NoopCache struct{}

var _ TileCache = (*NoopCache)(nil)

func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) Get(context.Context, Key) (Entry, bool, error) {
	return Entry{}, false, nil
}

func (c *NoopCache) Set(context.Context, Key, Entry) error {
	return nil
}

func (c *NoopCache) Has(context.Context, Key) (bool, error) {
	return false, nil
}

func (c *NoopCache) Close() error {
	return nil
}
