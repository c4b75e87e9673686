package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mnemo-ai/mnemo/internal/api"
	"github.com/mnemo-ai/mnemo/internal/buildconfig"
	"github.com/mnemo-ai/mnemo/internal/config"
)

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func main() {
	if err := config.Load(); err != nil {
		// Logger is not up yet.
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := newLogger(config.LogLevel())
	if err != nil {
		os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	dbURL := config.DatabaseURL()
	if dbURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}
	logger.Info("connected to database")

	// Time-partitioned rows can live in a separate timeseries database;
	// by default both pools point at the same DSN.
	tsPool := pool
	if tsURL := config.TimeseriesDatabaseURL(); tsURL != dbURL {
		tsPool, err = pgxpool.New(ctx, tsURL)
		if err != nil {
			logger.Fatal("failed to connect to timeseries database", zap.Error(err))
		}
		defer tsPool.Close()
		if err := tsPool.Ping(ctx); err != nil {
			logger.Fatal("failed to ping timeseries database", zap.Error(err))
		}
		logger.Info("connected to timeseries database")
	}

	redisOpts, err := redis.ParseURL(config.RedisURL())
	if err != nil {
		logger.Fatal("invalid REDIS_URL", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to ping redis", zap.Error(err))
	}
	logger.Info("connected to redis")

	app, err := api.NewApp(pool, tsPool, rdb, logger)
	if err != nil {
		logger.Fatal("failed to wire services", zap.Error(err))
	}

	// Start background services
	app.Conversations.Start()
	if config.DailyCompactionEnabled() {
		app.Compaction.Start()
	}

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: app.Router,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting",
			zap.String("addr", addr),
			zap.String("version", buildconfig.Version()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Stop background services after the listener drains so in-flight
	// requests can still reach the actors.
	app.Conversations.Stop()
	if config.DailyCompactionEnabled() {
		app.Compaction.Stop()
	}

	logger.Info("server stopped")
}
