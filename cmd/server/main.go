package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"liteproxy/internal/audit"
	"liteproxy/internal/config"
	"liteproxy/internal/platform/logger"
	"liteproxy/internal/platform/otel"
	"liteproxy/internal/proxy"
	"liteproxy/internal/server"
	"liteproxy/internal/store/cache"
	"liteproxy/internal/store/sqlite"
	"liteproxy/internal/version"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Initialize(logger.DefaultConfig())
	defer logger.Sync()
	log := logger.Get()

	go version.CheckForUpdates("liteproxy", "liteproxy")

	if cfg.Tracing.Enabled {
		shutdown, err := otel.InitTracer("liteproxy", log, os.Stdout)
		if err != nil {
			log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			_ = shutdown(context.Background())
		}()
	}

	// The store handle is owned here: opened once, injected everywhere,
	// closed on shutdown.
	repo, err := sqlite.NewSQLiteStorage(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to open database", zap.String("dsn", cfg.Database.DSN), zap.Error(err))
	}
	defer func() {
		_ = repo.Close()
	}()

	var cacheSvc cache.Service
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("Redis unavailable, falling back to in-memory cache", zap.Error(err))
			cacheSvc = cache.NewMemoryCache()
		} else {
			cacheSvc = redisCache
		}
	} else {
		cacheSvc = cache.NewMemoryCache()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stopped after the HTTP server has fully drained, so records from
	// requests finishing during shutdown are still written before the
	// store handle closes.
	recorder := audit.NewRecorder(log, repo)
	recorder.Start()
	defer recorder.Stop()

	service := proxy.NewService(log, repo, cacheSvc, recorder)
	srv := server.New(cfg, log, service, repo)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: srv.Handler(),
	}

	go func() {
		log.Info("Starting liteproxy",
			zap.String("port", cfg.Server.Port),
			zap.String("env", cfg.Server.Env))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
}
