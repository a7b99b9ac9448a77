package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/escribano/mapcache/internal/config"
	"github.com/escribano/mapcache/internal/repository/cache"
	"github.com/escribano/mapcache/internal/repository/source"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// maxCompositeTiles bounds how many tiles a single GetMap may assemble.
const maxCompositeTiles = 256

var wmsKVPParams = map[string]bool{
	"service":     true,
	"request":     true,
	"version":     true,
	"layers":      true,
	"styles":      true,
	"srs":         true,
	"crs":         true,
	"bbox":        true,
	"width":       true,
	"height":      true,
	"format":      true,
	"transparent": true,
	"bgcolor":     true,
	"exceptions":  true,
}

// dispatchWMS handles SERVICE=WMS&REQUEST=GetMap. The bounding box is
// decomposed into the covering tile set at the closest zoom, the tiles
// are resolved concurrently and composited into a single image. A single
// failed tile fails the whole request.
func (s *Service) dispatchWMS(ctx context.Context, query url.Values) *Response {
	if req := strings.ToLower(query.Get("request")); req != "getmap" {
		return assembleError(fmt.Errorf("%w: unsupported wms request %q", ErrBadRequest, query.Get("request")))
	}

	layers := query.Get("layers")
	if layers == "" {
		return assembleError(fmt.Errorf("%w: layers is required", ErrBadRequest))
	}
	if strings.Contains(layers, ",") {
		return assembleError(fmt.Errorf("%w: one layer per request", ErrBadRequest))
	}

	ts, ok := s.cfg.Tilesets[layers]
	if !ok {
		return assembleError(fmt.Errorf("%w: %q", ErrUnknownTileset, layers))
	}

	srs := query.Get("srs")
	if srs == "" {
		srs = query.Get("crs")
	}
	grid, err := s.gridForSRS(ts, srs)
	if err != nil {
		return assembleError(err)
	}

	bbox, err := parseBBox(query.Get("bbox"))
	if err != nil {
		return assembleError(err)
	}
	width, height, err := parseSize(query.Get("width"), query.Get("height"))
	if err != nil {
		return assembleError(err)
	}

	var dims map[string]string
	for name, values := range query {
		if wmsKVPParams[name] || len(values) == 0 {
			continue
		}
		if dims == nil {
			dims = make(map[string]string)
		}
		dims[name] = values[0]
	}

	resX := (bbox.MaxX() - bbox.MinX()) / float64(width)
	resY := (bbox.MaxY() - bbox.MinY()) / float64(height)
	z := grid.ClosestZoom(resX)
	x0, y0, x1, y1 := grid.TileRange(bbox, z)

	n := (x1 - x0 + 1) * (y1 - y0 + 1)
	if n > maxCompositeTiles {
		return assembleError(fmt.Errorf("%w: bbox spans %d tiles, limit is %d", ErrBadRequest, n, maxCompositeTiles))
	}

	type fetched struct {
		x, y  int
		entry cache.Entry
	}

	var (
		mu    sync.Mutex
		tiles []fetched
	)

	// Join semantics: all constituents must resolve; first failure
	// cancels the rest and fails the composite.
	g, gctx := errgroup.WithContext(ctx)
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			x, y := x, y
			g.Go(func() error {
				rt, err := s.resolver.Resolve(ts.Name, grid.Name, z, x, y, dims)
				if err != nil {
					return err
				}
				entry, err := s.tiles.GetTile(gctx, rt.Tileset, rt.Key, rt.Dimensions)
				if err != nil {
					return err
				}
				mu.Lock()
				tiles = append(tiles, fetched{x: x, y: y, entry: entry})
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return assembleError(err)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	var mtime time.Time

	for _, t := range tiles {
		img, _, err := image.Decode(bytes.NewReader(t.entry.Data))
		if err != nil {
			return assembleError(fmt.Errorf("%w: failed to decode tile %d/%d/%d: %v", source.ErrRender, z, t.x, t.y, err))
		}

		// Each tile is scaled to its extent in request pixels, so off-zoom
		// resolutions and non-square pixels still cover the full canvas.
		// Rect edges come from the shared bbox coordinates, keeping
		// neighbouring tiles flush.
		tb := grid.TileBBox(z, t.x, t.y)
		dr := image.Rect(
			int(math.Round((tb.MinX()-bbox.MinX())/resX)),
			int(math.Round((bbox.MaxY()-tb.MaxY())/resY)),
			int(math.Round((tb.MaxX()-bbox.MinX())/resX)),
			int(math.Round((bbox.MaxY()-tb.MinY())/resY)),
		)
		xdraw.ApproxBiLinear.Scale(canvas, dr, img, img.Bounds(), xdraw.Over, nil)

		if t.entry.MTime.After(mtime) {
			mtime = t.entry.MTime
		}
	}

	body, contentType, err := encodeImage(canvas, query.Get("format"), ts)
	if err != nil {
		return assembleError(err)
	}

	// Composite responses are assembled per request and never cached, so
	// conditional handling does not apply here.
	return assemble(cache.Entry{Data: body, MTime: mtime}, ts, contentType, Conditional{})
}

func (s *Service) gridForSRS(ts *config.Tileset, srs string) (*config.Grid, error) {
	if srs == "" {
		return nil, fmt.Errorf("%w: srs is required", ErrBadRequest)
	}
	for _, name := range ts.Grids {
		g := s.cfg.Grids[name]
		if strings.EqualFold(g.SRS, srs) {
			return g, nil
		}
	}
	return nil, fmt.Errorf("%w: tileset %q has no grid for srs %q", ErrUnknownGrid, ts.Name, srs)
}

func parseBBox(raw string) (config.BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return config.BBox{}, fmt.Errorf("%w: bbox must be minx,miny,maxx,maxy", ErrBadRequest)
	}
	var bbox config.BBox
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return config.BBox{}, fmt.Errorf("%w: bbox component %q is not a number", ErrBadRequest, p)
		}
		bbox[i] = v
	}
	if bbox.MinX() >= bbox.MaxX() || bbox.MinY() >= bbox.MaxY() {
		return config.BBox{}, fmt.Errorf("%w: bbox min must be smaller than max", ErrBadRequest)
	}
	return bbox, nil
}

func parseSize(w, h string) (int, int, error) {
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("%w: width should be a positive integer", ErrBadRequest)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("%w: height should be a positive integer", ErrBadRequest)
	}
	return width, height, nil
}

func encodeImage(img image.Image, requested string, ts *config.Tileset) ([]byte, string, error) {
	format := ts.Format
	switch strings.ToLower(requested) {
	case "", "image/" + ts.Format:
	case "image/png":
		format = "png"
	case "image/jpeg":
		format = "jpeg"
	default:
		return nil, "", fmt.Errorf("%w: unsupported format %q", ErrBadRequest, requested)
	}

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		if err := jpeg.Encode(&buf, img, nil); err != nil {
			return nil, "", fmt.Errorf("%w: jpeg encode: %v", source.ErrRender, err)
		}
		return buf.Bytes(), "image/jpeg", nil
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("%w: png encode: %v", source.ErrRender, err)
		}
		return buf.Bytes(), "image/png", nil
	}
}
