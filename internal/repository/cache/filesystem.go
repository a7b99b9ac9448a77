package cache

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemCache stores tiles on disk.
// Structure: {root}/{tileset}/{grid}/{dims}/{z}/{x}/{y}.{format}
type FilesystemCache struct {
	root string
}

var _ TileCache = (*FilesystemCache)(nil)

func NewFilesystemCache(root string) (*FilesystemCache, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, backendErr("mkdir cache root", err)
	}
	return &FilesystemCache{root: root}, nil
}

// pathComponent makes a key fragment safe to use as one directory name.
// Dimension values are request-supplied, so separators are escaped and a
// bare dot segment cannot traverse out of the cache root.
func pathComponent(s string) string {
	escaped := url.PathEscape(s)
	if escaped == "." || escaped == ".." {
		return strings.ReplaceAll(escaped, ".", "%2E")
	}
	return escaped
}

func (c *FilesystemCache) tilePath(k Key) string {
	return filepath.Join(c.root, k.Tileset, k.Grid, pathComponent(k.Dimensions),
		fmt.Sprintf("%d", k.Z), fmt.Sprintf("%d", k.X), fmt.Sprintf("%d.%s", k.Y, k.Format))
}

func (c *FilesystemCache) Get(_ context.Context, k Key) (Entry, bool, error) {
	path := c.tilePath(k)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, backendErr("read tile", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, false, backendErr("stat tile", err)
	}

	return Entry{Data: data, MTime: info.ModTime()}, true, nil
}

// Set publishes atomically: readers never observe a partially written
// tile because the temp file is renamed into place.
func (c *FilesystemCache) Set(_ context.Context, k Key, e Entry) error {
	path := c.tilePath(k)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return backendErr("mkdir tile dir", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tile-*")
	if err != nil {
		return backendErr("create temp tile", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(e.Data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return backendErr("write temp tile", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return backendErr("close temp tile", err)
	}

	if !e.MTime.IsZero() {
		if err := os.Chtimes(tmpPath, e.MTime, e.MTime); err != nil {
			os.Remove(tmpPath)
			return backendErr("set tile mtime", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return backendErr("publish tile", err)
	}
	return nil
}

func (c *FilesystemCache) Has(_ context.Context, k Key) (bool, error) {
	_, err := os.Stat(c.tilePath(k))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, backendErr("stat tile", err)
	}
	return true, nil
}

func (c *FilesystemCache) Close() error {
	return nil
}
