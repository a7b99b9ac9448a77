package v1

import (
	"time"

	"github.com/escribano/mapcache/internal/infrastructure/http/v1/handler"
	"github.com/escribano/mapcache/pkg/logger"
	"github.com/escribano/mapcache/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(handler *handler.Handler, l logger.Logger, telemetryEnabled bool, serviceName string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(ginZapLogger(l))
	if telemetryEnabled {
		r.Use(telemetry.GinMiddleware(serviceName))
	}

	r.GET("/healthz", handler.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/tms/1.0.0/:layer/:z/:x/:y", handler.Tile)
	r.GET("/wms", handler.Tile)
	r.GET("/wmts", handler.Tile)
	r.GET("/wmts/:tileset/:grid/:z/:x/:y", handler.Tile)

	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

func ginZapLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)

		l.Info("request",
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"ip", c.ClientIP(),
			"latency", latency,
			"size", c.Writer.Size(),
		)
	}
}
