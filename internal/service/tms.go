package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// dispatchTMS handles tms/1.0.0/{tileset}[@{grid}]/{z}/{x}/{y}.{format}.
// Extra query parameters are treated as dimension values.
func (s *Service) dispatchTMS(ctx context.Context, segments []string, query url.Values, cond Conditional) *Response {
	if len(segments) != 6 {
		return assembleError(fmt.Errorf("%w: expected tms/1.0.0/{tileset}/{z}/{x}/{y}.{format}", ErrBadRequest))
	}
	if segments[1] != "1.0.0" {
		return assembleError(fmt.Errorf("%w: unsupported tms version %q", ErrBadRequest, segments[1]))
	}

	tileset, grid := splitLayerGrid(segments[2])

	z, err := strconv.Atoi(segments[3])
	if err != nil {
		return assembleError(fmt.Errorf("%w: z should be integer", ErrBadRequest))
	}
	x, err := strconv.Atoi(segments[4])
	if err != nil {
		return assembleError(fmt.Errorf("%w: x should be integer", ErrBadRequest))
	}
	yPart, format, err := splitExtension(segments[5])
	if err != nil {
		return assembleError(err)
	}
	y, err := strconv.Atoi(yPart)
	if err != nil {
		return assembleError(fmt.Errorf("%w: y should be integer", ErrBadRequest))
	}

	return s.serveTile(ctx, tileset, grid, z, x, y, format, dimsFromQuery(query), cond)
}

// splitLayerGrid splits "test@WGS84" into ("test", "WGS84").
func splitLayerGrid(segment string) (string, string) {
	for i := 0; i < len(segment); i++ {
		if segment[i] == '@' {
			return segment[:i], segment[i+1:]
		}
	}
	return segment, ""
}

// dimsFromQuery filters out protocol parameters, leaving dimension values.
func dimsFromQuery(query url.Values) map[string]string {
	var dims map[string]string
	for name, values := range query {
		switch name {
		case "service", "request", "version":
			continue
		}
		if len(values) == 0 {
			continue
		}
		if dims == nil {
			dims = make(map[string]string)
		}
		dims[name] = values[0]
	}
	return dims
}

// serveTile is the shared single-tile path: resolve, regenerate-on-miss,
// assemble.
func (s *Service) serveTile(ctx context.Context, tileset, grid string, z, x, y int, format string, dims map[string]string, cond Conditional) *Response {
	rt, err := s.resolver.Resolve(tileset, grid, z, x, y, dims)
	if err != nil {
		return assembleError(err)
	}
	if format != "" && format != rt.Tileset.Format {
		return assembleError(fmt.Errorf("%w: tileset %q serves %s, not %s", ErrBadRequest, tileset, rt.Tileset.Format, format))
	}

	entry, err := s.tiles.GetTile(ctx, rt.Tileset, rt.Key, rt.Dimensions)
	if err != nil {
		return assembleError(err)
	}

	return assemble(entry, rt.Tileset, rt.Tileset.ContentType(), cond)
}
