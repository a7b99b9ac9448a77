package service

import (
	"fmt"
	"slices"

	"github.com/escribano/mapcache/internal/config"
	"github.com/escribano/mapcache/internal/repository/cache"
)

// ResolvedTile is a fully validated tile request: the canonical cache key
// plus the configuration objects needed to regenerate it.
type ResolvedTile struct {
	Key        cache.Key
	Tileset    *config.Tileset
	Grid       *config.Grid
	Dimensions map[string]string
}

// Resolver validates tile coordinates against the configured grids and
// tilesets and computes canonical cache keys.
type Resolver struct {
	cfg *config.Config
}

func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve maps (tileset, grid, z, x, y, dims) to a cache key. An empty
// grid name selects the tileset's first grid. Omitted dimensions take
// their declared defaults silently.
func (r *Resolver) Resolve(tileset, grid string, z, x, y int, dims map[string]string) (*ResolvedTile, error) {
	ts, ok := r.cfg.Tilesets[tileset]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTileset, tileset)
	}

	if grid == "" {
		grid = ts.Grids[0]
	}
	if !slices.Contains(ts.Grids, grid) {
		return nil, fmt.Errorf("%w: tileset %q does not serve grid %q", ErrUnknownGrid, tileset, grid)
	}
	g, ok := r.cfg.Grids[grid]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGrid, grid)
	}

	if z < 0 || z > g.MaxZoom() {
		return nil, fmt.Errorf("%w: zoom %d outside [0, %d] for grid %q", ErrTileOutOfRange, z, g.MaxZoom(), grid)
	}
	if !g.Contains(z, x, y) {
		nx, ny := g.TileCounts(z)
		return nil, fmt.Errorf("%w: tile %d/%d outside %dx%d at zoom %d", ErrTileOutOfRange, x, y, nx, ny, z)
	}

	resolved, err := resolveDimensions(ts, dims)
	if err != nil {
		return nil, err
	}

	return &ResolvedTile{
		Key: cache.Key{
			Tileset:    ts.Name,
			Grid:       g.Name,
			Z:          z,
			X:          x,
			Y:          y,
			Dimensions: cache.EncodeDimensions(resolved),
			Format:     ts.Format,
		},
		Tileset:    ts,
		Grid:       g,
		Dimensions: resolved,
	}, nil
}

func resolveDimensions(ts *config.Tileset, dims map[string]string) (map[string]string, error) {
	if len(ts.Dimensions) == 0 {
		if len(dims) > 0 {
			for name := range dims {
				return nil, fmt.Errorf("%w: tileset %q declares no dimension %q", ErrInvalidDimension, ts.Name, name)
			}
		}
		return nil, nil
	}

	resolved := make(map[string]string, len(ts.Dimensions))
	for _, d := range ts.Dimensions {
		resolved[d.Name] = d.Default
	}
	for name, value := range dims {
		d, ok := ts.Dimension(name)
		if !ok {
			return nil, fmt.Errorf("%w: tileset %q declares no dimension %q", ErrInvalidDimension, ts.Name, name)
		}
		if !d.Allows(value) {
			return nil, fmt.Errorf("%w: %q is not a legal value for dimension %q", ErrInvalidDimension, value, name)
		}
		resolved[name] = value
	}
	return resolved, nil
}
