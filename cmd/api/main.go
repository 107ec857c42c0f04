package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/splax/etlwatch/internal/app/migrate"
	httpx "github.com/splax/etlwatch/internal/http"
	"github.com/splax/etlwatch/internal/repository/postgres"
	"github.com/splax/etlwatch/internal/service/analytics"
	"github.com/splax/etlwatch/internal/service/source"
	"github.com/splax/etlwatch/pkg/config"
	"github.com/splax/etlwatch/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		runner, err := migrate.New(cfg.CatalogDatabaseURL, cfg.MigrationsDir, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		if err := runner.Up(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}

	registry := postgres.NewRegistry(cfg.CatalogDatabaseURL, cfg.CatalogSources, cfg.PoolMaxConns, log)
	defer registry.Close()

	// The catalog may come up after the API; report it and keep serving.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := registry.Ping(pingCtx); err != nil {
		log.Warn("default catalog source unreachable", "error", err)
	}
	cancel()

	reports := analytics.New(registry, log, analytics.Options{
		QueryTimeout:         cfg.QueryTimeout,
		Location:             cfg.Location(),
		DashboardParallelism: cfg.DashboardConcurrency,
	})
	sources := source.New(registry, postgres.Probe, log, source.Options{
		ProbeTimeout: cfg.ProbeTimeout,
		AllowAdhoc:   cfg.SourceTestAllowAdhoc,
	})

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, reports, sources, limiter, cfg.RateLimitPerMinute, registry.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment, "sources", registry.Sources())
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
