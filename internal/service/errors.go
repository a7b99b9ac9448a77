package service

import (
	"errors"
	"fmt"
)

// Request-level error kinds. The response assembler maps these to HTTP
// status codes; everything else becomes a 5xx.
var (
	ErrBadRequest       = errors.New("bad request")
	ErrTileOutOfRange   = fmt.Errorf("%w: tile out of range", ErrBadRequest)
	ErrInvalidDimension = fmt.Errorf("%w: invalid dimension value", ErrBadRequest)

	ErrUnknownTileset = errors.New("unknown tileset")
	ErrUnknownGrid    = errors.New("unknown grid")
	ErrUnknownService = errors.New("unknown service")
)
