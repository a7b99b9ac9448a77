package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

var _ TileCache = (*RedisCache)(nil)

func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, backendErr("connect to redis", err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour // default TTL
	}

	return &RedisCache{
		client: client,
		ttl:    ttl,
	}, nil
}

func (c *RedisCache) keyFor(k Key) string {
	return "tile:" + k.String()
}

// Values are framed as an 8-byte big-endian mtime (unix nanos) followed by
// the tile body, so a single GET round-trip recovers both.
func encodeEntry(e Entry) []byte {
	buf := make([]byte, 8+len(e.Data))
	binary.BigEndian.PutUint64(buf, uint64(e.MTime.UnixNano()))
	copy(buf[8:], e.Data)
	return buf
}

func decodeEntry(raw []byte) (Entry, error) {
	if len(raw) < 8 {
		return Entry{}, fmt.Errorf("truncated entry: %d bytes", len(raw))
	}
	mtime := time.Unix(0, int64(binary.BigEndian.Uint64(raw)))
	return Entry{Data: raw[8:], MTime: mtime}, nil
}

func (c *RedisCache) Get(ctx context.Context, k Key) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.keyFor(k)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Entry{}, false, nil
		}
		return Entry{}, false, backendErr("redis get", err)
	}

	e, err := decodeEntry(raw)
	if err != nil {
		return Entry{}, false, backendErr("redis decode", err)
	}
	return e, true, nil
}

func (c *RedisCache) Set(ctx context.Context, k Key, e Entry) error {
	if err := c.client.Set(ctx, c.keyFor(k), encodeEntry(e), c.ttl).Err(); err != nil {
		return backendErr("redis set", err)
	}
	return nil
}

func (c *RedisCache) Has(ctx context.Context, k Key) (bool, error) {
	n, err := c.client.Exists(ctx, c.keyFor(k)).Result()
	if err != nil {
		return false, backendErr("redis exists", err)
	}
	return n > 0, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
