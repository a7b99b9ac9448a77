package cache

import (
	"fmt"

	"github.com/escribano/mapcache/internal/config"
	"github.com/escribano/mapcache/pkg/logger"
)

// BuildAll constructs every configured cache backend. Tiered caches are
// assembled last so they reference the already-built tier instances.
func BuildAll(cfgs map[string]*config.CacheConfig, l logger.Logger) (map[string]TileCache, error) {
	caches := make(map[string]TileCache, len(cfgs))

	for name, cfg := range cfgs {
		if cfg.Type == config.CacheTiered {
			continue
		}
		c, err := build(cfg, l)
		if err != nil {
			return nil, err
		}
		caches[name] = c
	}

	for name, cfg := range cfgs {
		if cfg.Type != config.CacheTiered {
			continue
		}
		tiers := make([]TileCache, 0, len(cfg.Tiers))
		for _, tierName := range cfg.Tiers {
			tier, ok := caches[tierName]
			if !ok {
				return nil, fmt.Errorf("cache %q: tier %q was not built", name, tierName)
			}
			tiers = append(tiers, tier)
		}
		caches[name] = NewTieredCache(tiers, cfg.AsyncBackfill, l)
	}

	return caches, nil
}

func build(cfg *config.CacheConfig, l logger.Logger) (TileCache, error) {
	switch cfg.Type {
	case config.CacheDisk:
		l.Info("using disk cache", "name", cfg.Name, "path", cfg.Path)
		return NewFilesystemCache(cfg.Path)
	case config.CacheMemory:
		l.Info("using memory cache", "name", cfg.Name, "max_age", cfg.MaxAge.Std())
		return NewMemoryCache(cfg.MaxAge.Std()), nil
	case config.CacheSQLite:
		return NewSQLiteCache(cfg.Path, l)
	case config.CacheRedis:
		l.Info("using redis cache", "name", cfg.Name, "addr", cfg.Addr)
		return NewRedisCache(RedisConfig{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			TTL:      cfg.MaxAge.Std(),
		})
	case config.CacheNoop:
		l.Info("cache disabled", "name", cfg.Name)
		return NewNoopCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}
