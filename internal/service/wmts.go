package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/escribano/mapcache/internal/config"
)

// dispatchWMTSRest handles wmts/{tileset}/{grid}/{z}/{x}/{y}.{format}.
// The RESTful grammar addresses tiles in the grid's native orientation,
// like TMS.
func (s *Service) dispatchWMTSRest(ctx context.Context, segments []string, query url.Values, cond Conditional) *Response {
	if len(segments) != 6 {
		return assembleError(fmt.Errorf("%w: expected wmts/{tileset}/{grid}/{z}/{x}/{y}.{format}", ErrBadRequest))
	}

	tileset := segments[1]
	grid := segments[2]

	z, err := strconv.Atoi(segments[3])
	if err != nil {
		return assembleError(fmt.Errorf("%w: tile matrix should be integer", ErrBadRequest))
	}
	x, err := strconv.Atoi(segments[4])
	if err != nil {
		return assembleError(fmt.Errorf("%w: tile col should be integer", ErrBadRequest))
	}
	yPart, format, err := splitExtension(segments[5])
	if err != nil {
		return assembleError(err)
	}
	y, err := strconv.Atoi(yPart)
	if err != nil {
		return assembleError(fmt.Errorf("%w: tile row should be integer", ErrBadRequest))
	}

	return s.serveTile(ctx, tileset, grid, z, x, y, format, dimsFromQuery(query), cond)
}

// wmtsKVPParams are protocol parameters; everything else in the query is
// a dimension value.
var wmtsKVPParams = map[string]bool{
	"service":       true,
	"request":       true,
	"version":       true,
	"layer":         true,
	"style":         true,
	"format":        true,
	"tilematrixset": true,
	"tilematrix":    true,
	"tilerow":       true,
	"tilecol":       true,
}

// dispatchWMTSKVP handles SERVICE=WMTS&REQUEST=GetTile key/value requests.
// TILEROW is counted from the top-left corner per the WMTS convention and
// converted when the grid's origin is bottom-left.
func (s *Service) dispatchWMTSKVP(ctx context.Context, query url.Values, cond Conditional) *Response {
	if req := strings.ToLower(query.Get("request")); req != "gettile" {
		return assembleError(fmt.Errorf("%w: unsupported wmts request %q", ErrBadRequest, query.Get("request")))
	}

	tileset := query.Get("layer")
	if tileset == "" {
		return assembleError(fmt.Errorf("%w: layer is required", ErrBadRequest))
	}
	grid := query.Get("tilematrixset")

	z, err := strconv.Atoi(query.Get("tilematrix"))
	if err != nil {
		return assembleError(fmt.Errorf("%w: tilematrix should be integer", ErrBadRequest))
	}
	row, err := strconv.Atoi(query.Get("tilerow"))
	if err != nil {
		return assembleError(fmt.Errorf("%w: tilerow should be integer", ErrBadRequest))
	}
	col, err := strconv.Atoi(query.Get("tilecol"))
	if err != nil {
		return assembleError(fmt.Errorf("%w: tilecol should be integer", ErrBadRequest))
	}

	var dims map[string]string
	for name, values := range query {
		if wmtsKVPParams[name] || len(values) == 0 {
			continue
		}
		if dims == nil {
			dims = make(map[string]string)
		}
		dims[name] = values[0]
	}

	// Resolve once without coordinates to learn the grid, then flip the
	// row for bottom-left grids.
	rt, err := s.resolver.Resolve(tileset, grid, z, 0, 0, dims)
	if err != nil {
		return assembleError(err)
	}
	y := row
	if rt.Grid.Origin == config.OriginBottomLeft {
		_, ny := rt.Grid.TileCounts(z)
		y = ny - 1 - row
	}

	return s.serveTile(ctx, tileset, grid, z, col, y, "", dims, cond)
}
