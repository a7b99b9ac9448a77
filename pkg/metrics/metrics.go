package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_cache_hits_total",
		Help: "Total number of tile cache hits",
	}, []string{"cache"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_cache_misses_total",
		Help: "Total number of tile cache misses",
	}, []string{"cache"})

	CacheStores = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_cache_stores_total",
		Help: "Total number of tile cache store operations",
	}, []string{"cache"})

	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_cache_errors_total",
		Help: "Total number of tile cache backend errors",
	}, []string{"cache", "operation"})

	RenderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tile_render_duration_seconds",
		Help:    "Duration of source render invocations in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"tileset"})

	RenderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_render_errors_total",
		Help: "Total number of failed source render invocations",
	}, []string{"tileset"})

	RenderCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tile_render_coalesced_total",
		Help: "Total number of requests that waited on an in-flight render instead of starting their own",
	})

	StaleServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tile_stale_served_total",
		Help: "Total number of expired tiles served because regeneration failed",
	})

	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_requests_total",
		Help: "Total number of tile requests by service and status code",
	}, []string{"service", "code"})
)
