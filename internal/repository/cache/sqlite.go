package cache

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/escribano/mapcache/pkg/logger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLiteCache struct {
	db     *sql.DB
	logger logger.Logger
}

var _ TileCache = (*SQLiteCache)(nil)

func NewSQLiteCache(path string, l logger.Logger) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, backendErr("open sqlite", err)
	}

	if err := db.Ping(); err != nil {
		return nil, backendErr("ping sqlite", err)
	}

	c := &SQLiteCache{
		db:     db,
		logger: l,
	}

	if err := c.runMigrations(); err != nil {
		return nil, backendErr("migrate sqlite", err)
	}

	l.Info("sqlite cache initialized", "path", path)

	return c, nil
}

func (c *SQLiteCache) runMigrations() error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	return goose.Up(c.db, "migrations")
}

func (c *SQLiteCache) Get(ctx context.Context, k Key) (Entry, bool, error) {
	c.logger.Debug("sqlite cache get", "key", k.String())

	query := `SELECT tile_data, mtime
	FROM tile_cache
	WHERE tile_key = ?`

	var (
		data  []byte
		mtime int64
	)
	err := c.db.QueryRowContext(ctx, query, k.String()).Scan(&data, &mtime)
	if err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		c.logger.Error("sqlite cache get failed", "key", k.String(), "error", err)
		return Entry{}, false, backendErr("sqlite get", err)
	}

	return Entry{Data: data, MTime: time.Unix(0, mtime)}, true, nil
}

func (c *SQLiteCache) Set(ctx context.Context, k Key, e Entry) error {
	c.logger.Debug("sqlite cache set", "key", k.String())

	query := `INSERT INTO tile_cache (tile_key, tile_data, mtime)
	VALUES (?, ?, ?)
	ON CONFLICT(tile_key) DO UPDATE SET tile_data = excluded.tile_data, mtime = excluded.mtime`

	_, err := c.db.ExecContext(ctx, query, k.String(), e.Data, e.MTime.UnixNano())
	if err != nil {
		c.logger.Error("sqlite cache set failed", "key", k.String(), "error", err)
		return backendErr("sqlite set", err)
	}

	return nil
}

func (c *SQLiteCache) Has(ctx context.Context, k Key) (bool, error) {
	query := `SELECT 1 FROM tile_cache WHERE tile_key = ?`

	var one int
	err := c.db.QueryRowContext(ctx, query, k.String()).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, backendErr("sqlite has", err)
	}
	return true, nil
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
