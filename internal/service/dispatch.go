package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/escribano/mapcache/internal/config"
	"github.com/escribano/mapcache/internal/usecase"
	"github.com/escribano/mapcache/pkg/logger"
	"github.com/escribano/mapcache/pkg/metrics"
)

// Service interprets incoming tile requests (TMS paths, WMS GetMap and
// WMTS, both RESTful and KVP) and resolves them through the cache.
type Service struct {
	cfg      *config.Config
	resolver *Resolver
	tiles    *usecase.TileUseCase
	logger   logger.Logger
}

func New(cfg *config.Config, tiles *usecase.TileUseCase, l logger.Logger) *Service {
	return &Service{
		cfg:      cfg,
		resolver: NewResolver(cfg),
		tiles:    tiles,
		logger:   l,
	}
}

// Dispatch parses pathInfo/query into a tile request, resolves it and
// assembles the response envelope. It never returns an error: failures
// become well-formed error responses.
func (s *Service) Dispatch(ctx context.Context, pathInfo string, query url.Values, cond Conditional) *Response {
	query = lowerKeys(query)

	serviceName, resp := s.dispatch(ctx, pathInfo, query, cond)
	metrics.Requests.WithLabelValues(serviceName, fmt.Sprintf("%d", resp.Code)).Inc()
	return resp
}

func (s *Service) dispatch(ctx context.Context, pathInfo string, query url.Values, cond Conditional) (string, *Response) {
	segments := splitPath(pathInfo)

	if len(segments) > 0 {
		switch segments[0] {
		case config.ServiceTMS:
			if !s.cfg.ServiceEnabled(config.ServiceTMS) {
				return config.ServiceTMS, assembleError(fmt.Errorf("%w: tms is not enabled", ErrUnknownService))
			}
			return config.ServiceTMS, s.dispatchTMS(ctx, segments, query, cond)
		case config.ServiceWMTS:
			if !s.cfg.ServiceEnabled(config.ServiceWMTS) {
				return config.ServiceWMTS, assembleError(fmt.Errorf("%w: wmts is not enabled", ErrUnknownService))
			}
			return config.ServiceWMTS, s.dispatchWMTSRest(ctx, segments, query, cond)
		}
	}

	switch strings.ToLower(query.Get("service")) {
	case config.ServiceWMS:
		if !s.cfg.ServiceEnabled(config.ServiceWMS) {
			return config.ServiceWMS, assembleError(fmt.Errorf("%w: wms is not enabled", ErrUnknownService))
		}
		return config.ServiceWMS, s.dispatchWMS(ctx, query)
	case config.ServiceWMTS:
		if !s.cfg.ServiceEnabled(config.ServiceWMTS) {
			return config.ServiceWMTS, assembleError(fmt.Errorf("%w: wmts is not enabled", ErrUnknownService))
		}
		return config.ServiceWMTS, s.dispatchWMTSKVP(ctx, query, cond)
	}

	return "none", assembleError(fmt.Errorf("%w: unrecognized request", ErrBadRequest))
}

func splitPath(pathInfo string) []string {
	trimmed := strings.Trim(pathInfo, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func lowerKeys(query url.Values) url.Values {
	out := make(url.Values, len(query))
	for k, vs := range query {
		out[strings.ToLower(k)] = vs
	}
	return out
}

// splitExtension separates "0.png" into ("0", "png").
func splitExtension(segment string) (string, string, error) {
	idx := strings.LastIndexByte(segment, '.')
	if idx <= 0 || idx == len(segment)-1 {
		return "", "", fmt.Errorf("%w: missing format extension in %q", ErrBadRequest, segment)
	}
	return segment[:idx], segment[idx+1:], nil
}
