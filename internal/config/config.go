package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// Error is returned for any configuration failure: syntax, dangling
// reference or invalid value. No partial configuration is ever exposed.
type Error struct {
	msg string
}

func (e *Error) Error() string {
	return "config: " + e.msg
}

func errorf(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

const (
	CacheDisk   = "disk"
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
	CacheTiered = "tiered"
	CacheNoop   = "noop"

	SourceHTTP   = "http"
	SourceStatic = "static"

	ServiceTMS  = "tms"
	ServiceWMS  = "wms"
	ServiceWMTS = "wmts"
)

type (
	// Config is the full declarative tile configuration: named grids,
	// caches, sources, tilesets and enabled services. Read-only after Load.
	Config struct {
		Grids    map[string]*Grid        `yaml:"grids"`
		Caches   map[string]*CacheConfig `yaml:"caches"`
		Sources  map[string]*Source      `yaml:"sources"`
		Tilesets map[string]*Tileset     `yaml:"tilesets" validate:"required,min=1,dive,required"`
		Services []string                `yaml:"services"`
	}

	CacheConfig struct {
		Name string `yaml:"-"`
		Type string `yaml:"type" validate:"required,oneof=disk memory sqlite redis tiered noop"`

		// disk / sqlite
		Path string `yaml:"path"`

		// memory
		MaxEntries int `yaml:"max_entries"`

		// redis
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`

		// tiered
		Tiers         []string `yaml:"tiers"`
		AsyncBackfill bool     `yaml:"async_backfill"`

		// TTL applied by the backend itself where the medium supports it.
		MaxAge Duration `yaml:"max_age"`
	}

	Source struct {
		Name string `yaml:"-"`
		Type string `yaml:"type" validate:"required,oneof=http static"`

		// http
		URLTemplate string            `yaml:"url_template"`
		Timeout     Duration          `yaml:"timeout"`
		Headers     map[string]string `yaml:"headers"`

		// static
		Body string `yaml:"body"`
	}

	Tileset struct {
		Name       string       `yaml:"-"`
		Source     string       `yaml:"source" validate:"required"`
		Cache      string       `yaml:"cache" validate:"required"`
		Grids      []string     `yaml:"grids" validate:"required,min=1"`
		Format     string       `yaml:"format" validate:"required,oneof=png jpeg"`
		MaxAge     Duration     `yaml:"max_age"`
		ServeStale bool         `yaml:"serve_stale"`
		CacheEmpty bool         `yaml:"cache_empty"`
		Dimensions []*Dimension `yaml:"dimensions" validate:"dive"`
	}

	// Dimension is an extra request axis (time, elevation, ...) with an
	// enumerated or pattern-validated value set and a default.
	Dimension struct {
		Name    string   `yaml:"name" validate:"required"`
		Default string   `yaml:"default" validate:"required"`
		Values  []string `yaml:"values"`
		Pattern string   `yaml:"pattern"`

		re *regexp.Regexp
	}
)

// Allows reports whether v is a legal value for the dimension.
func (d *Dimension) Allows(v string) bool {
	if len(d.Values) > 0 {
		return slices.Contains(d.Values, v)
	}
	if d.re != nil {
		return d.re.MatchString(v)
	}
	return true
}

// ContentType returns the MIME type for the tileset's format.
func (t *Tileset) ContentType() string {
	switch t.Format {
	case "jpeg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}

// Dimension returns the named dimension declaration, if any.
func (t *Tileset) Dimension(name string) (*Dimension, bool) {
	for _, d := range t.Dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// ServiceEnabled reports whether the named service grammar is enabled.
func (c *Config) ServiceEnabled(name string) bool {
	return slices.Contains(c.Services, name)
}

// Load reads, parses and validates the declarative configuration document
// at path. Any failure is surfaced as a *Error; the returned Config is
// complete and immutable.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errorf("failed to read %s: %v", path, err)
	}
	return Parse(raw)
}

// Parse is Load over an in-memory document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errorf("malformed document: %v", err)
	}

	if cfg.Grids == nil {
		cfg.Grids = make(map[string]*Grid)
	}
	for name, g := range builtinGrids() {
		if _, overridden := cfg.Grids[name]; !overridden {
			cfg.Grids[name] = g
		}
	}

	for name, g := range cfg.Grids {
		g.Name = name
		if g.TileSize == 0 {
			g.TileSize = 256
		}
		if g.Origin == "" {
			g.Origin = OriginBottomLeft
		}
	}
	for name, c := range cfg.Caches {
		c.Name = name
	}
	for name, s := range cfg.Sources {
		s.Name = name
	}
	for name, t := range cfg.Tilesets {
		t.Name = name
	}
	if len(cfg.Services) == 0 {
		cfg.Services = []string{ServiceTMS, ServiceWMS, ServiceWMTS}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errorf("invalid document: %v", err)
	}

	for _, g := range c.Grids {
		if err := g.validate(); err != nil {
			return err
		}
	}

	for _, cache := range c.Caches {
		if err := c.validateCache(cache); err != nil {
			return err
		}
	}

	for _, s := range c.Sources {
		switch s.Type {
		case SourceHTTP:
			if s.URLTemplate == "" {
				return errorf("source %q: url_template is required for http sources", s.Name)
			}
		case SourceStatic:
		}
	}

	for _, t := range c.Tilesets {
		if _, ok := c.Sources[t.Source]; !ok {
			return errorf("tileset %q: unknown source %q", t.Name, t.Source)
		}
		if _, ok := c.Caches[t.Cache]; !ok {
			return errorf("tileset %q: unknown cache %q", t.Name, t.Cache)
		}
		for _, g := range t.Grids {
			if _, ok := c.Grids[g]; !ok {
				return errorf("tileset %q: unknown grid %q", t.Name, g)
			}
		}
		for _, d := range t.Dimensions {
			if d.Pattern != "" {
				re, err := regexp.Compile(d.Pattern)
				if err != nil {
					return errorf("tileset %q: dimension %q: invalid pattern: %v", t.Name, d.Name, err)
				}
				d.re = re
			}
			if !d.Allows(d.Default) {
				return errorf("tileset %q: dimension %q: default %q is not a legal value", t.Name, d.Name, d.Default)
			}
		}
	}

	for _, s := range c.Services {
		switch s {
		case ServiceTMS, ServiceWMS, ServiceWMTS:
		default:
			return errorf("unknown service %q", s)
		}
	}

	return nil
}

func (c *Config) validateCache(cache *CacheConfig) error {
	switch cache.Type {
	case CacheDisk, CacheSQLite:
		if cache.Path == "" {
			return errorf("cache %q: path is required for %s caches", cache.Name, cache.Type)
		}
	case CacheRedis:
		if cache.Addr == "" {
			return errorf("cache %q: addr is required for redis caches", cache.Name)
		}
	case CacheTiered:
		if len(cache.Tiers) < 2 {
			return errorf("cache %q: tiered caches need at least two tiers", cache.Name)
		}
		for _, tier := range cache.Tiers {
			ref, ok := c.Caches[tier]
			if !ok {
				return errorf("cache %q: unknown tier %q", cache.Name, tier)
			}
			if ref.Type == CacheTiered {
				return errorf("cache %q: tiers cannot nest tiered caches", cache.Name)
			}
		}
	}
	return nil
}
