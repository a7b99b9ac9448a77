package source

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRender marks rendering backend failures, distinguishable from
	// cache-layer errors by the caller.
	ErrRender = errors.New("source: render failure")

	// ErrEmptyTile signals that the requested area is genuinely empty.
	// Not an error condition for the caller: the coordinator substitutes
	// the blank tile body and may cache it.
	ErrEmptyTile = errors.New("source: empty tile")
)

func renderErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRender, fmt.Sprintf(format, args...))
}

// Tile addresses one tile in a named grid.
type Tile struct {
	Grid string
	Z    int
	X    int
	Y    int
}

// Source renders raw tile bytes on demand. Implementations are opaque to
// the caching layer and must be safe for concurrent use.
type Source interface {
	Render(ctx context.Context, t Tile, dims map[string]string) ([]byte, error)
}
