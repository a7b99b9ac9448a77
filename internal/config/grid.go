package config

import (
	"math"
)

const (
	OriginBottomLeft = "ll"
	OriginTopLeft    = "ul"
)

// BBox is a bounding box in grid units: [minx, miny, maxx, maxy].
type BBox [4]float64

func (b BBox) MinX() float64 { return b[0] }
func (b BBox) MinY() float64 { return b[1] }
func (b BBox) MaxX() float64 { return b[2] }
func (b BBox) MaxY() float64 { return b[3] }

func (b BBox) valid() bool {
	return b[0] < b[2] && b[1] < b[3]
}

// Grid describes a tiling scheme: spatial reference, extent, tile size and
// one resolution per zoom level. Immutable after Load.
type Grid struct {
	Name        string    `yaml:"-"`
	SRS         string    `yaml:"srs" validate:"required"`
	BBox        BBox      `yaml:"bbox"`
	TileSize    int       `yaml:"tile_size"`
	Origin      string    `yaml:"origin"`
	Resolutions []float64 `yaml:"resolutions" validate:"required,min=1"`
}

func (g *Grid) validate() error {
	if !g.BBox.valid() {
		return errorf("grid %q: bbox min must be smaller than max", g.Name)
	}
	if g.TileSize <= 0 {
		return errorf("grid %q: tile_size must be positive", g.Name)
	}
	if g.Origin != OriginBottomLeft && g.Origin != OriginTopLeft {
		return errorf("grid %q: origin must be %q or %q", g.Name, OriginBottomLeft, OriginTopLeft)
	}
	if len(g.Resolutions) == 0 {
		return errorf("grid %q: at least one resolution is required", g.Name)
	}
	for i, r := range g.Resolutions {
		if r <= 0 {
			return errorf("grid %q: resolution %d must be positive", g.Name, i)
		}
		if i > 0 && r >= g.Resolutions[i-1] {
			return errorf("grid %q: resolutions must be strictly decreasing (index %d)", g.Name, i)
		}
	}
	return nil
}

// MaxZoom returns the highest valid zoom level.
func (g *Grid) MaxZoom() int {
	return len(g.Resolutions) - 1
}

// TileCounts returns the number of tiles along each axis at zoom z.
func (g *Grid) TileCounts(z int) (nx, ny int) {
	res := g.Resolutions[z]
	span := res * float64(g.TileSize)
	nx = int(math.Ceil((g.BBox.MaxX() - g.BBox.MinX()) / span))
	ny = int(math.Ceil((g.BBox.MaxY() - g.BBox.MinY()) / span))
	return nx, ny
}

// Contains reports whether z/x/y addresses a tile inside the grid.
func (g *Grid) Contains(z, x, y int) bool {
	if z < 0 || z > g.MaxZoom() {
		return false
	}
	nx, ny := g.TileCounts(z)
	return x >= 0 && x < nx && y >= 0 && y < ny
}

// TileBBox returns the extent covered by tile z/x/y.
func (g *Grid) TileBBox(z, x, y int) BBox {
	res := g.Resolutions[z]
	span := res * float64(g.TileSize)

	minx := g.BBox.MinX() + float64(x)*span
	var miny float64
	if g.Origin == OriginTopLeft {
		miny = g.BBox.MaxY() - float64(y+1)*span
	} else {
		miny = g.BBox.MinY() + float64(y)*span
	}
	return BBox{minx, miny, minx + span, miny + span}
}

// ClosestZoom returns the zoom level whose resolution is nearest to res.
func (g *Grid) ClosestZoom(res float64) int {
	best := 0
	bestDiff := math.Inf(1)
	for z, r := range g.Resolutions {
		diff := math.Abs(math.Log(r) - math.Log(res))
		if diff < bestDiff {
			bestDiff = diff
			best = z
		}
	}
	return best
}

// TileRange returns the inclusive tile range covering bbox at zoom z,
// clipped to the grid extent.
func (g *Grid) TileRange(bbox BBox, z int) (x0, y0, x1, y1 int) {
	res := g.Resolutions[z]
	span := res * float64(g.TileSize)
	nx, ny := g.TileCounts(z)

	// Small epsilon keeps a bbox edge exactly on a tile boundary from
	// pulling in the neighbouring tile.
	const eps = 1e-9

	x0 = int(math.Floor((bbox.MinX() - g.BBox.MinX()) / span))
	x1 = int(math.Floor((bbox.MaxX() - g.BBox.MinX() - eps) / span))

	if g.Origin == OriginTopLeft {
		y0 = int(math.Floor((g.BBox.MaxY() - bbox.MaxY()) / span))
		y1 = int(math.Floor((g.BBox.MaxY() - bbox.MinY() - eps) / span))
	} else {
		y0 = int(math.Floor((bbox.MinY() - g.BBox.MinY()) / span))
		y1 = int(math.Floor((bbox.MaxY() - g.BBox.MinY() - eps) / span))
	}

	x0 = clamp(x0, 0, nx-1)
	x1 = clamp(x1, 0, nx-1)
	y0 = clamp(y0, 0, ny-1)
	y1 = clamp(y1, 0, ny-1)
	return x0, y0, x1, y1
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// builtinGrids are registered implicitly and may be overridden by name.
func builtinGrids() map[string]*Grid {
	webMercator := &Grid{
		Name:     "GLOBAL_WEBMERCATOR",
		SRS:      "EPSG:3857",
		BBox:     BBox{-20037508.342789244, -20037508.342789244, 20037508.342789244, 20037508.342789244},
		TileSize: 256,
		Origin:   OriginBottomLeft,
	}
	for z := 0; z < 20; z++ {
		webMercator.Resolutions = append(webMercator.Resolutions, 156543.03392804097/math.Pow(2, float64(z)))
	}

	wgs84 := &Grid{
		Name:     "WGS84",
		SRS:      "EPSG:4326",
		BBox:     BBox{-180, -90, 180, 90},
		TileSize: 256,
		Origin:   OriginBottomLeft,
	}
	for z := 0; z < 18; z++ {
		wgs84.Resolutions = append(wgs84.Resolutions, 0.703125/math.Pow(2, float64(z)))
	}

	return map[string]*Grid{
		webMercator.Name: webMercator,
		wgs84.Name:       wgs84,
	}
}
