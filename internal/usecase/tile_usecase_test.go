package usecase

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/escribano/mapcache/internal/config"
	"github.com/escribano/mapcache/internal/repository/cache"
	"github.com/escribano/mapcache/internal/repository/source"
	"github.com/escribano/mapcache/pkg/logger"
)

type countingSource struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	err   error
	data  []byte
}

func (s *countingSource) Render(ctx context.Context, _ source.Tile, _ map[string]string) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func (s *countingSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testTileset(opts func(*config.Tileset)) *config.Tileset {
	ts := &config.Tileset{
		Name:   "test",
		Source: "src",
		Cache:  "mem",
		Grids:  []string{"WGS84"},
		Format: "png",
	}
	if opts != nil {
		opts(ts)
	}
	return ts
}

func testUseCase(src source.Source, timeout time.Duration) (*TileUseCase, cache.TileCache) {
	mem := cache.NewMemoryCache(0)
	uc := NewTileUseCase(
		map[string]cache.TileCache{"mem": mem},
		map[string]source.Source{"src": src},
		timeout,
		logger.NewNop(),
	)
	return uc, mem
}

func testKey() cache.Key {
	return cache.Key{Tileset: "test", Grid: "WGS84", Z: 0, X: 0, Y: 0, Dimensions: "default", Format: "png"}
}

func TestGetTileRendersOnMissThenCaches(t *testing.T) {
	src := &countingSource{data: []byte("rendered")}
	uc, _ := testUseCase(src, time.Second)
	ts := testTileset(nil)
	ctx := context.Background()

	first, err := uc.GetTile(ctx, ts, testKey(), nil)
	if err != nil {
		t.Fatalf("GetTile() error = %v", err)
	}
	if !bytes.Equal(first.Data, []byte("rendered")) {
		t.Errorf("data = %q", first.Data)
	}
	if src.count() != 1 {
		t.Fatalf("render count = %d, want 1", src.count())
	}

	// The second request must be a pure cache hit: same bytes, same
	// mtime, no extra render.
	second, err := uc.GetTile(ctx, ts, testKey(), nil)
	if err != nil {
		t.Fatalf("GetTile() error = %v", err)
	}
	if src.count() != 1 {
		t.Errorf("render count after hit = %d, want 1", src.count())
	}
	if !bytes.Equal(second.Data, first.Data) {
		t.Error("cached bytes differ from rendered bytes")
	}
	if !second.MTime.Equal(first.MTime) {
		t.Errorf("mtime changed between hits: %v vs %v", second.MTime, first.MTime)
	}
}

func TestGetTileSingleFlight(t *testing.T) {
	src := &countingSource{data: []byte("rendered"), delay: 50 * time.Millisecond}
	uc, _ := testUseCase(src, time.Second)
	ts := testTileset(nil)

	const n = 32
	var wg sync.WaitGroup
	results := make([]cache.Entry, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = uc.GetTile(context.Background(), ts, testKey(), nil)
		}(i)
	}
	wg.Wait()

	if got := src.count(); got != 1 {
		t.Errorf("render count = %d, want exactly 1 for %d concurrent requests", got, n)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
		if !bytes.Equal(results[i].Data, []byte("rendered")) {
			t.Errorf("request %d data = %q", i, results[i].Data)
		}
	}
}

func TestGetTileDistinctKeysDoNotSerialize(t *testing.T) {
	src := &countingSource{data: []byte("rendered")}
	uc, _ := testUseCase(src, time.Second)
	ts := testTileset(nil)
	ctx := context.Background()

	k1 := testKey()
	k2 := testKey()
	k2.X = 1

	if _, err := uc.GetTile(ctx, ts, k1, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := uc.GetTile(ctx, ts, k2, nil); err != nil {
		t.Fatal(err)
	}
	if src.count() != 2 {
		t.Errorf("render count = %d, want 2 for two distinct keys", src.count())
	}
}

func TestGetTileSourceFailure(t *testing.T) {
	renderErr := errors.New("source: render failure: boom")
	src := &countingSource{err: renderErr}
	uc, _ := testUseCase(src, time.Second)
	ts := testTileset(nil)

	_, err := uc.GetTile(context.Background(), ts, testKey(), nil)
	if !errors.Is(err, renderErr) {
		t.Fatalf("error = %v, want the source error", err)
	}
	// A failed render must not poison the lock table.
	src.err = nil
	src.data = []byte("recovered")
	entry, err := uc.GetTile(context.Background(), ts, testKey(), nil)
	if err != nil {
		t.Fatalf("retry after failure error = %v", err)
	}
	if !bytes.Equal(entry.Data, []byte("recovered")) {
		t.Errorf("data = %q", entry.Data)
	}
}

func TestGetTileTimeout(t *testing.T) {
	src := &countingSource{data: []byte("slow"), delay: 200 * time.Millisecond}
	uc, _ := testUseCase(src, 20*time.Millisecond)
	ts := testTileset(nil)

	_, err := uc.GetTile(context.Background(), ts, testKey(), nil)
	if !errors.Is(err, ErrRenderTimeout) {
		t.Fatalf("error = %v, want ErrRenderTimeout", err)
	}

	// The lock must not be left held: a later request renders again.
	src.delay = 0
	if _, err := uc.GetTile(context.Background(), ts, testKey(), nil); err != nil {
		t.Fatalf("request after timeout error = %v", err)
	}
	if src.count() != 2 {
		t.Errorf("render count = %d, want 2", src.count())
	}
}

func TestGetTileExpiredEntryRegenerates(t *testing.T) {
	src := &countingSource{data: []byte("fresh")}
	uc, mem := testUseCase(src, time.Second)
	ts := testTileset(func(ts *config.Tileset) {
		ts.MaxAge = config.Duration(time.Minute)
	})
	ctx := context.Background()

	old := cache.Entry{Data: []byte("old"), MTime: time.Now().Add(-time.Hour)}
	if err := mem.Set(ctx, testKey(), old); err != nil {
		t.Fatal(err)
	}

	entry, err := uc.GetTile(ctx, ts, testKey(), nil)
	if err != nil {
		t.Fatalf("GetTile() error = %v", err)
	}
	if !bytes.Equal(entry.Data, []byte("fresh")) {
		t.Errorf("data = %q, want regenerated bytes", entry.Data)
	}
	if src.count() != 1 {
		t.Errorf("render count = %d, want 1", src.count())
	}
}

func TestGetTileServeStaleOnError(t *testing.T) {
	src := &countingSource{err: errors.New("upstream down")}
	uc, mem := testUseCase(src, time.Second)
	ts := testTileset(func(ts *config.Tileset) {
		ts.MaxAge = config.Duration(time.Minute)
		ts.ServeStale = true
	})
	ctx := context.Background()

	stale := cache.Entry{Data: []byte("stale"), MTime: time.Now().Add(-time.Hour)}
	if err := mem.Set(ctx, testKey(), stale); err != nil {
		t.Fatal(err)
	}

	entry, err := uc.GetTile(ctx, ts, testKey(), nil)
	if err != nil {
		t.Fatalf("GetTile() error = %v, want stale fallback", err)
	}
	if !bytes.Equal(entry.Data, []byte("stale")) {
		t.Errorf("data = %q, want stale bytes", entry.Data)
	}
}

func TestGetTileStaleDisabledPropagatesError(t *testing.T) {
	upstreamErr := errors.New("upstream down")
	src := &countingSource{err: upstreamErr}
	uc, mem := testUseCase(src, time.Second)
	ts := testTileset(func(ts *config.Tileset) {
		ts.MaxAge = config.Duration(time.Minute)
	})
	ctx := context.Background()

	stale := cache.Entry{Data: []byte("stale"), MTime: time.Now().Add(-time.Hour)}
	if err := mem.Set(ctx, testKey(), stale); err != nil {
		t.Fatal(err)
	}

	if _, err := uc.GetTile(ctx, ts, testKey(), nil); !errors.Is(err, upstreamErr) {
		t.Fatalf("error = %v, want upstream error", err)
	}
}

func TestGetTileEmptyTile(t *testing.T) {
	src := &countingSource{err: source.ErrEmptyTile}
	uc, mem := testUseCase(src, time.Second)
	ts := testTileset(func(ts *config.Tileset) {
		ts.CacheEmpty = true
	})
	ctx := context.Background()

	entry, err := uc.GetTile(ctx, ts, testKey(), nil)
	if err != nil {
		t.Fatalf("GetTile() error = %v", err)
	}
	if !bytes.Equal(entry.Data, source.BlankTile()) {
		t.Error("empty tile did not map to the blank body")
	}

	// cache_empty stores the blank body so the area is not re-rendered.
	if _, found, _ := mem.Get(ctx, testKey()); !found {
		t.Error("empty tile was not cached despite cache_empty")
	}
	if _, err := uc.GetTile(ctx, ts, testKey(), nil); err != nil {
		t.Fatal(err)
	}
	if src.count() != 1 {
		t.Errorf("render count = %d, want 1", src.count())
	}
}

func TestGetTileEmptyTileUncached(t *testing.T) {
	src := &countingSource{err: source.ErrEmptyTile}
	uc, mem := testUseCase(src, time.Second)
	ts := testTileset(nil) // CacheEmpty off
	ctx := context.Background()

	entry, err := uc.GetTile(ctx, ts, testKey(), nil)
	if err != nil {
		t.Fatalf("GetTile() error = %v", err)
	}
	if !bytes.Equal(entry.Data, source.BlankTile()) {
		t.Error("empty tile did not map to the blank body")
	}
	if _, found, _ := mem.Get(ctx, testKey()); found {
		t.Error("empty tile cached despite cache_empty being off")
	}
}

func TestGetTileWaiterCancellation(t *testing.T) {
	src := &countingSource{data: []byte("rendered"), delay: 100 * time.Millisecond}
	uc, mem := testUseCase(src, time.Second)
	ts := testTileset(nil)

	started := make(chan struct{})
	go func() {
		close(started)
		uc.GetTile(context.Background(), ts, testKey(), nil)
	}()
	<-started
	time.Sleep(10 * time.Millisecond) // let the owner take the lock

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := uc.GetTile(ctx, ts, testKey(), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled waiter error = %v, want context.Canceled", err)
	}

	// The abandoned render still completes and populates the cache.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, found, _ := mem.Get(context.Background(), testKey()); found {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("shared render did not populate the cache after waiter cancellation")
}
