package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/escribano/mapcache/internal/config"
	"github.com/escribano/mapcache/internal/repository/cache"
	"github.com/escribano/mapcache/internal/repository/source"
	"github.com/escribano/mapcache/pkg/logger"
	"github.com/escribano/mapcache/pkg/metrics"
)

// ErrRenderTimeout is returned when a source invocation exceeds the
// configured render timeout. The per-key lock is always released.
var ErrRenderTimeout = errors.New("render timeout")

// inflight tracks one in-progress regeneration. Waiters block on done,
// then inspect err before re-reading the cache.
type inflight struct {
	done chan struct{}
	err  error
}

// TileUseCase resolves tiles from the cache and regenerates misses from
// the tileset's source, with at most one in-flight regeneration per key.
type TileUseCase struct {
	caches        map[string]cache.TileCache
	sources       map[string]source.Source
	renderTimeout time.Duration
	logger        logger.Logger

	mu       sync.Mutex
	inflight map[string]*inflight
}

func NewTileUseCase(caches map[string]cache.TileCache, sources map[string]source.Source, renderTimeout time.Duration, l logger.Logger) *TileUseCase {
	if renderTimeout == 0 {
		renderTimeout = 30 * time.Second
	}
	return &TileUseCase{
		caches:        caches,
		sources:       sources,
		renderTimeout: renderTimeout,
		logger:        l,
		inflight:      make(map[string]*inflight),
	}
}

// GetTile returns the cached entry for key, regenerating it from the
// tileset's source on miss or expiry. Concurrent callers for the same key
// share a single render: the first becomes the owner, the rest wait and
// re-read the populated entry.
func (uc *TileUseCase) GetTile(ctx context.Context, ts *config.Tileset, key cache.Key, dims map[string]string) (cache.Entry, error) {
	c, ok := uc.caches[ts.Cache]
	if !ok {
		return cache.Entry{}, fmt.Errorf("%w: tileset %q references unbuilt cache %q", cache.ErrBackend, ts.Name, ts.Cache)
	}
	src, ok := uc.sources[ts.Source]
	if !ok {
		return cache.Entry{}, fmt.Errorf("%w: tileset %q references unbuilt source %q", source.ErrRender, ts.Name, ts.Source)
	}

	k := key.String()

	// Fast path, no locking.
	entry, found, err := c.Get(ctx, key)
	if err != nil {
		metrics.CacheErrors.WithLabelValues(ts.Cache, "get").Inc()
		return cache.Entry{}, err
	}
	if found && uc.fresh(ts, entry) {
		metrics.CacheHits.WithLabelValues(ts.Cache).Inc()
		return entry, nil
	}
	metrics.CacheMisses.WithLabelValues(ts.Cache).Inc()

	// Expired bytes are kept around as a fallback if regeneration fails.
	var stale *cache.Entry
	if found {
		stale = &entry
	}

	for {
		uc.mu.Lock()
		fl, waiting := uc.inflight[k]
		if !waiting {
			fl = &inflight{done: make(chan struct{})}
			uc.inflight[k] = fl
		}
		uc.mu.Unlock()

		if !waiting {
			return uc.build(ctx, c, src, ts, key, dims, fl, stale)
		}

		metrics.RenderCoalesced.Inc()
		uc.logger.Debug("waiting for in-flight render", "key", k)

		select {
		case <-fl.done:
		case <-ctx.Done():
			// The shared render keeps going; only this waiter gives up.
			return cache.Entry{}, ctx.Err()
		}

		if fl.err != nil {
			return uc.fallback(ts, stale, fl.err)
		}

		// Re-read the freshly populated entry rather than trusting any
		// local copy.
		entry, found, err = c.Get(ctx, key)
		if err != nil {
			metrics.CacheErrors.WithLabelValues(ts.Cache, "get").Inc()
			return cache.Entry{}, err
		}
		if found {
			return entry, nil
		}
		// The owner succeeded but the entry is already gone (evicted or
		// the store is write-averse). Take over as owner on the next lap.
	}
}

// build renders the tile as the lock owner, stores it and wakes waiters.
func (uc *TileUseCase) build(ctx context.Context, c cache.TileCache, src source.Source, ts *config.Tileset, key cache.Key, dims map[string]string, fl *inflight, stale *cache.Entry) (cache.Entry, error) {
	var (
		entry cache.Entry
		err   error
	)

	defer func() {
		fl.err = err
		uc.mu.Lock()
		delete(uc.inflight, key.String())
		uc.mu.Unlock()
		close(fl.done)
	}()

	// Client disconnects must not cancel the shared regeneration: other
	// waiters and future requests depend on the populated entry.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.renderTimeout)
	defer cancel()

	start := time.Now()
	data, renderErr := src.Render(rctx, source.Tile{Grid: key.Grid, Z: key.Z, X: key.X, Y: key.Y}, dims)
	metrics.RenderDuration.WithLabelValues(ts.Name).Observe(time.Since(start).Seconds())

	cacheable := true
	switch {
	case renderErr == nil:
	case errors.Is(renderErr, source.ErrEmptyTile):
		data = source.BlankTile()
		cacheable = ts.CacheEmpty
	case errors.Is(renderErr, context.DeadlineExceeded) || errors.Is(rctx.Err(), context.DeadlineExceeded):
		metrics.RenderErrors.WithLabelValues(ts.Name).Inc()
		err = fmt.Errorf("%w: tileset %q key %q after %s", ErrRenderTimeout, ts.Name, key.String(), uc.renderTimeout)
		return uc.fallback(ts, stale, err)
	default:
		metrics.RenderErrors.WithLabelValues(ts.Name).Inc()
		err = renderErr
		return uc.fallback(ts, stale, err)
	}

	entry = cache.Entry{Data: data, MTime: time.Now().UTC()}

	if cacheable {
		if setErr := c.Set(rctx, key, entry); setErr != nil {
			// Serve the rendered tile anyway; the next request will
			// regenerate it.
			metrics.CacheErrors.WithLabelValues(ts.Cache, "set").Inc()
			uc.logger.Warn("failed to store rendered tile", "key", key.String(), "error", setErr)
		} else {
			metrics.CacheStores.WithLabelValues(ts.Cache).Inc()
		}
	}

	return entry, nil
}

// fallback serves expired bytes when regeneration fails and the tileset
// allows it, otherwise propagates the failure.
func (uc *TileUseCase) fallback(ts *config.Tileset, stale *cache.Entry, err error) (cache.Entry, error) {
	if stale != nil && ts.ServeStale {
		metrics.StaleServed.Inc()
		uc.logger.Warn("serving stale tile after failed regeneration", "tileset", ts.Name, "error", err)
		return *stale, nil
	}
	return cache.Entry{}, err
}

func (uc *TileUseCase) fresh(ts *config.Tileset, e cache.Entry) bool {
	maxAge := ts.MaxAge.Std()
	if maxAge == 0 {
		return true
	}
	return time.Since(e.MTime) <= maxAge
}
