package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/radiusdt/vector-insights/internal/anomaly"
	"github.com/radiusdt/vector-insights/internal/cache"
	"github.com/radiusdt/vector-insights/internal/config"
	"github.com/radiusdt/vector-insights/internal/database"
	"github.com/radiusdt/vector-insights/internal/executor"
	"github.com/radiusdt/vector-insights/internal/httpserver"
	"github.com/radiusdt/vector-insights/internal/metrics"
	"github.com/radiusdt/vector-insights/internal/middleware"
	"github.com/radiusdt/vector-insights/internal/pacing"
	"github.com/radiusdt/vector-insights/internal/report"
	"github.com/radiusdt/vector-insights/internal/storage"
	"github.com/radiusdt/vector-insights/internal/tasks"
	"github.com/radiusdt/vector-insights/internal/tenant"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vector-insights: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting vector-insights",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics("vector_insights", reg)
	health := make(map[string]httpserver.HealthCheck)

	// Relational store
	var store storage.Store
	if cfg.Database.Enabled {
		db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.Database.Migrate {
			if err := storage.Migrate(ctx, db.Pool); err != nil {
				return err
			}
		}
		store = storage.NewPostgresStore(db.Pool)
		health["postgres"] = db.Health
		go db.ReportStats(ctx, m, 15*time.Second)
	} else {
		logger.Warn("PostgreSQL disabled, using in-memory storage")
		store = storage.NewMemoryStore()
	}

	// Cache
	var (
		c        cache.Cache
		memCache *cache.MemoryCache
	)
	if cfg.Redis.Enabled {
		rdb, err := database.NewRedisDB(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis not available, using in-process cache", zap.Error(err))
		} else {
			defer func() { _ = rdb.Close() }()
			c = cache.NewRedisCache(rdb.Client, cfg.Redis.KeyPrefix, logger, m)
			health["redis"] = rdb.Health
		}
	}
	if c == nil {
		memCache = cache.NewMemoryCache()
		c = memCache
	}

	// Performance rows: ClickHouse when enabled, always memoized.
	var metricStore storage.MetricStore = store
	if cfg.ClickHouse.Enabled {
		ch, err := database.NewClickHouseDB(ctx, cfg.ClickHouse, logger)
		if err != nil {
			return err
		}
		defer func() { _ = ch.Close() }()
		if err := storage.MigrateClickHouse(ctx, ch.Conn); err != nil {
			return err
		}
		metricStore = storage.NewClickHouseMetricStore(ch.Conn)
		health["clickhouse"] = ch.Health
	}
	store = storage.WithMetricStore(store, storage.NewCachedMetricStore(metricStore, c, storage.DefaultAggregateTTL, logger))

	exec := executor.New(cfg.Executor, c, logger, m)
	resolver := tenant.NewResolver(store, cfg.Tenant, cfg.Defaults, logger, m)

	rules, err := anomaly.LoadRules(cfg.Anomaly.RulesPath)
	if err != nil {
		return err
	}
	detector := anomaly.NewService(store, store, cfg.Anomaly, rules, logger, m)
	planner := pacing.NewPlanner(store, logger, m)
	if cfg.Explainer.URL != "" {
		client := report.NewClient(cfg.Explainer, exec, logger)
		detector.SetExplainer(client)
		planner.SetAdvisor(client)
		logger.Info("explainer configured", zap.String("url", cfg.Explainer.URL))
	}

	syncer := tasks.NewSyncer(resolver, exec, store, store, c, logger, m)
	analyzer := tasks.NewAnalyzer(detector, planner, store, store, store, logger)

	limiter := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger, m)
	handler := httpserver.NewServer(&httpserver.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Metrics:   m,
		Gatherer:  reg,
		Store:     store,
		Resolver:  resolver,
		Executor:  exec,
		Anomalies: detector,
		Planner:   planner,
		Syncer:    syncer,
		Analyzer:  analyzer,
		Limiter:   limiter,
		Health:    health,
	})

	go housekeeping(ctx, store, limiter, memCache, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}

// housekeeping applies the retention windows daily and sweeps idle rate
// limiters and, when in use, the in-process cache hourly.
func housekeeping(ctx context.Context, store storage.Retainer, limiter *middleware.RateLimitMiddleware, mem *cache.MemoryCache, logger *zap.Logger) {
	retention := time.NewTicker(24 * time.Hour)
	defer retention.Stop()
	sweep := time.NewTicker(time.Hour)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			limiter.Cleanup(time.Hour)
			if mem != nil {
				if n := mem.Sweep(); n > 0 {
					logger.Debug("memory cache swept", zap.Int("keys", n))
				}
			}
		case now := <-retention.C:
			removed, err := store.ApplyRetention(ctx, storage.DefaultRetention(), now)
			if err != nil {
				logger.Error("retention failed", zap.Error(err))
				continue
			}
			logger.Info("retention applied", zap.Any("removed", removed))
		}
	}
}
