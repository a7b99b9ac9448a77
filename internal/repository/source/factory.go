package source

import (
	"encoding/base64"
	"fmt"

	"github.com/escribano/mapcache/internal/config"
	"github.com/escribano/mapcache/pkg/logger"
)

// BuildAll constructs every configured source backend.
func BuildAll(cfgs map[string]*config.Source, l logger.Logger) (map[string]Source, error) {
	sources := make(map[string]Source, len(cfgs))
	for name, cfg := range cfgs {
		s, err := build(cfg, l)
		if err != nil {
			return nil, err
		}
		sources[name] = s
	}
	return sources, nil
}

func build(cfg *config.Source, l logger.Logger) (Source, error) {
	switch cfg.Type {
	case config.SourceHTTP:
		l.Info("using http source", "name", cfg.Name, "url_template", cfg.URLTemplate)
		return NewHTTPSource(cfg.URLTemplate, cfg.Headers, cfg.Timeout.Std(), l), nil
	case config.SourceStatic:
		var body []byte
		if cfg.Body != "" {
			decoded, err := base64.StdEncoding.DecodeString(cfg.Body)
			if err != nil {
				return nil, fmt.Errorf("source %q: body must be base64: %w", cfg.Name, err)
			}
			body = decoded
		}
		return NewStaticSource(body), nil
	default:
		return nil, fmt.Errorf("unknown source type: %s", cfg.Type)
	}
}
