package cache

import (
	"context"

	"github.com/escribano/mapcache/pkg/logger"
)

// TieredCache chains backends in a read-through hierarchy: a miss in an
// earlier (faster) tier consults the next one, and a hit in a later tier
// is backfilled into the tiers in front of it.
type TieredCache struct {
	tiers         []TileCache
	asyncBackfill bool
	logger        logger.Logger
}

var _ TileCache = (*TieredCache)(nil)

func NewTieredCache(tiers []TileCache, asyncBackfill bool, l logger.Logger) *TieredCache {
	return &TieredCache{
		tiers:         tiers,
		asyncBackfill: asyncBackfill,
		logger:        l,
	}
}

func (c *TieredCache) Get(ctx context.Context, k Key) (Entry, bool, error) {
	for i, tier := range c.tiers {
		e, found, err := tier.Get(ctx, k)
		if err != nil {
			return Entry{}, false, err
		}
		if !found {
			continue
		}

		if i > 0 {
			c.backfill(ctx, c.tiers[:i], k, e)
		}
		return e, true, nil
	}
	return Entry{}, false, nil
}

func (c *TieredCache) backfill(ctx context.Context, front []TileCache, k Key, e Entry) {
	fill := func(ctx context.Context) {
		for _, tier := range front {
			if err := tier.Set(ctx, k, e); err != nil {
				c.logger.Warn("tier backfill failed", "key", k.String(), "error", err)
			}
		}
	}

	if c.asyncBackfill {
		go fill(context.WithoutCancel(ctx))
		return
	}
	fill(ctx)
}

// Set writes through every tier. The write only fails if all tiers fail,
// so one degraded tier does not lose the tile entirely.
func (c *TieredCache) Set(ctx context.Context, k Key, e Entry) error {
	var lastErr error
	stored := false
	for _, tier := range c.tiers {
		if err := tier.Set(ctx, k, e); err != nil {
			c.logger.Warn("tier set failed", "key", k.String(), "error", err)
			lastErr = err
			continue
		}
		stored = true
	}
	if !stored {
		return lastErr
	}
	return nil
}

func (c *TieredCache) Has(ctx context.Context, k Key) (bool, error) {
	for _, tier := range c.tiers {
		found, err := tier.Has(ctx, k)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

func (c *TieredCache) Close() error {
	var lastErr error
	for _, tier := range c.tiers {
		if err := tier.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
