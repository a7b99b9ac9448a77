package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/escribano/mapcache/internal/config"
	v1 "github.com/escribano/mapcache/internal/infrastructure/http/v1"
	"github.com/escribano/mapcache/internal/infrastructure/http/v1/handler"
	"github.com/escribano/mapcache/internal/repository/cache"
	"github.com/escribano/mapcache/internal/repository/source"
	"github.com/escribano/mapcache/internal/service"
	"github.com/escribano/mapcache/internal/usecase"
	pkgconfig "github.com/escribano/mapcache/pkg/config"
	"github.com/escribano/mapcache/pkg/http_server"
	"github.com/escribano/mapcache/pkg/logger"
	"github.com/escribano/mapcache/pkg/telemetry"
)

func Run(cfg *pkgconfig.Config) {
	l := logger.NewZapLogger(cfg.Logger)
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx = logger.WithLogger(ctx, l)

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
		if err != nil {
			l.Fatal("failed to initialize telemetry", "error", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				l.Error("telemetry shutdown failed", "error", err)
			}
		}()
	}

	tileCfg, err := config.Load(cfg.Tiles.ConfigPath)
	if err != nil {
		l.Fatal("failed to load tile configuration", "path", cfg.Tiles.ConfigPath, "error", err)
	}
	l.Info("tile configuration loaded",
		"path", cfg.Tiles.ConfigPath,
		"tilesets", len(tileCfg.Tilesets),
		"caches", len(tileCfg.Caches),
		"services", tileCfg.Services,
	)

	caches, err := cache.BuildAll(tileCfg.Caches, l)
	if err != nil {
		l.Fatal("failed to build cache backends", "error", err)
	}
	defer func() {
		for name, c := range caches {
			if err := c.Close(); err != nil {
				l.Error("cache close failed", "name", name, "error", err)
			}
		}
	}()

	sources, err := source.BuildAll(tileCfg.Sources, l)
	if err != nil {
		l.Fatal("failed to build source backends", "error", err)
	}

	tileUseCase := usecase.NewTileUseCase(caches, sources, cfg.Tiles.RenderTimeout, l)
	svc := service.New(tileCfg, tileUseCase, l)

	h := handler.NewHandler(svc, l)
	router := v1.NewRouter(h, l, cfg.Telemetry.Enabled, cfg.Telemetry.ServiceName)

	httpServer := http_server.NewServer(cfg.HTTP.Server, router)

	go func() {
		l.Info("starting http server...", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	l.Info("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	l.Info("shutting down http server...", "address", httpServer.Addr)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		l.Error("http server shutdown failed", "error", err)
	} else {
		l.Info("http server shutdown completed")
	}

	l.Info("application shutdown completed")
}
