package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrBackend marks storage I/O failures, as opposed to plain misses which
// are reported through the boolean return.
var ErrBackend = errors.New("cache: backend failure")

func backendErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrBackend, op, err)
}

// Key canonically identifies a cached tile. It is derived only from
// semantic request fields, so it is stable across process restarts.
type Key struct {
	Tileset    string
	Grid       string
	Z          int
	X          int
	Y          int
	Dimensions string
	Format     string
}

// EncodeDimensions produces the canonical dimension fragment of a Key.
// Values are sorted by name so equivalent requests share a cache entry.
func EncodeDimensions(dims map[string]string) string {
	if len(dims) == 0 {
		return "default"
	}
	names := make([]string, 0, len(dims))
	for name := range dims {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+dims[name])
	}
	return strings.Join(parts, ";")
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%d/%d/%d.%s", k.Tileset, k.Grid, k.Dimensions, k.Z, k.X, k.Y, k.Format)
}

// Entry is a stored tile: raw body bytes plus the modification time used
// for Last-Modified headers and expiry decisions.
type Entry struct {
	Data  []byte
	MTime time.Time
}

// TileCache is the uniform storage contract. A miss is (zero, false, nil);
// I/O failures wrap ErrBackend. Implementations must be safe for
// concurrent use, and Set must be atomic with respect to concurrent Gets
// of the same key.
type TileCache interface {
	Get(ctx context.Context, k Key) (Entry, bool, error)
	Set(ctx context.Context, k Key, e Entry) error
	Has(ctx context.Context, k Key) (bool, error)
	Close() error
}
