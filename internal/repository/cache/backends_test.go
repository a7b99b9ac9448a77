package cache

import (
	"bytes"
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/escribano/mapcache/pkg/logger"
)

func testKey(z, x, y int) Key {
	return Key{
		Tileset:    "test",
		Grid:       "WGS84",
		Z:          z,
		X:          x,
		Y:          y,
		Dimensions: "default",
		Format:     "png",
	}
}

// roundTrip asserts the §get-after-set contract on any backend: stored
// bytes and mtime come back unchanged, absent keys are plain misses.
func roundTrip(t *testing.T, c TileCache) {
	t.Helper()
	ctx := context.Background()

	k := testKey(1, 0, 0)

	if _, found, err := c.Get(ctx, k); err != nil || found {
		t.Fatalf("Get(absent) = found=%v err=%v, want miss", found, err)
	}
	if found, err := c.Has(ctx, k); err != nil || found {
		t.Fatalf("Has(absent) = %v, %v, want false", found, err)
	}

	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	entry := Entry{Data: []byte("tile-bytes"), MTime: mtime}
	if err := c.Set(ctx, k, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, found, err := c.Get(ctx, k)
	if err != nil || !found {
		t.Fatalf("Get(present) = found=%v err=%v", found, err)
	}
	if !bytes.Equal(got.Data, entry.Data) {
		t.Errorf("Get() data = %q, want %q", got.Data, entry.Data)
	}
	if !got.MTime.Truncate(time.Second).Equal(mtime) {
		t.Errorf("Get() mtime = %v, want %v", got.MTime, mtime)
	}

	if found, err := c.Has(ctx, k); err != nil || !found {
		t.Fatalf("Has(present) = %v, %v, want true", found, err)
	}

	// Overwrite is an upsert.
	newer := Entry{Data: []byte("newer"), MTime: time.Now().Truncate(time.Second)}
	if err := c.Set(ctx, k, newer); err != nil {
		t.Fatalf("Set(overwrite) error = %v", err)
	}
	got, _, _ = c.Get(ctx, k)
	if !bytes.Equal(got.Data, newer.Data) {
		t.Errorf("overwrite not applied: %q", got.Data)
	}
}

func TestFilesystemCacheRoundTrip(t *testing.T) {
	c, err := NewFilesystemCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	roundTrip(t, c)
}

func TestFilesystemCacheLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	c, err := NewFilesystemCache(root)
	if err != nil {
		t.Fatal(err)
	}

	k := testKey(2, 1, 1)
	if err := c.Set(context.Background(), k, Entry{Data: []byte("x"), MTime: time.Now()}); err != nil {
		t.Fatal(err)
	}

	leftovers, err := filepath.Glob(filepath.Join(root, "test", "WGS84", "default", "2", "1", ".tile-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

// Dimension values come from requests, so a permissive dimension pattern
// must not let separators or dot segments write outside the cache root.
func TestFilesystemCacheConfinesDimensions(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "tiles")
	c, err := NewFilesystemCache(root)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, dims := range []string{"../../../evil", "..", "a/b", "time=../../x"} {
		k := testKey(0, 0, 0)
		k.Dimensions = dims

		if err := c.Set(ctx, k, Entry{Data: []byte("x"), MTime: time.Now()}); err != nil {
			t.Fatalf("Set(%q) error = %v", dims, err)
		}
		if _, found, err := c.Get(ctx, k); err != nil || !found {
			t.Fatalf("Get(%q) = found=%v err=%v", dims, found, err)
		}
	}

	err = filepath.WalkDir(parent, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			t.Errorf("file escaped the cache root: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	roundTrip(t, NewMemoryCache(0))
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache(10 * time.Millisecond)
	ctx := context.Background()
	k := testKey(0, 0, 0)

	if err := c.Set(ctx, k, Entry{Data: []byte("x"), MTime: time.Now()}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	if _, found, _ := c.Get(ctx, k); found {
		t.Error("entry survived its TTL")
	}
}

func TestSQLiteCacheRoundTrip(t *testing.T) {
	c, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"), logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	roundTrip(t, c)
}

func TestNoopCache(t *testing.T) {
	c := NewNoopCache()
	ctx := context.Background()
	k := testKey(0, 0, 0)

	if err := c.Set(ctx, k, Entry{Data: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := c.Get(ctx, k); found {
		t.Error("noop cache stored an entry")
	}
}

func TestTieredCacheBackfill(t *testing.T) {
	ctx := context.Background()
	l1 := NewMemoryCache(0)
	l2 := NewMemoryCache(0)
	tiered := NewTieredCache([]TileCache{l1, l2}, false, logger.NewNop())

	k := testKey(3, 4, 5)
	entry := Entry{Data: []byte("deep"), MTime: time.Now().Truncate(time.Second)}

	// Seed only the slow tier.
	if err := l2.Set(ctx, k, entry); err != nil {
		t.Fatal(err)
	}

	got, found, err := tiered.Get(ctx, k)
	if err != nil || !found {
		t.Fatalf("Get() = found=%v err=%v", found, err)
	}
	if !bytes.Equal(got.Data, entry.Data) {
		t.Errorf("data = %q", got.Data)
	}

	// The hit must have been backfilled into the fast tier.
	if _, found, _ := l1.Get(ctx, k); !found {
		t.Error("l1 was not backfilled after l2 hit")
	}
}

func TestTieredCacheWriteThrough(t *testing.T) {
	ctx := context.Background()
	l1 := NewMemoryCache(0)
	l2 := NewMemoryCache(0)
	tiered := NewTieredCache([]TileCache{l1, l2}, false, logger.NewNop())

	k := testKey(1, 1, 0)
	if err := tiered.Set(ctx, k, Entry{Data: []byte("both"), MTime: time.Now()}); err != nil {
		t.Fatal(err)
	}

	for i, tier := range []TileCache{l1, l2} {
		if _, found, _ := tier.Get(ctx, k); !found {
			t.Errorf("tier %d missing entry after write-through", i)
		}
	}
}

func TestTieredCacheMiss(t *testing.T) {
	tiered := NewTieredCache([]TileCache{NewMemoryCache(0), NewMemoryCache(0)}, false, logger.NewNop())
	if _, found, err := tiered.Get(context.Background(), testKey(0, 1, 0)); found || err != nil {
		t.Errorf("Get(absent) = found=%v err=%v, want clean miss", found, err)
	}
}
