package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hookline/internal/api"
	"hookline/internal/buildinfo"
	"hookline/internal/config"
	"hookline/internal/logging"
	"hookline/internal/store"
	"hookline/internal/webhooks"
)

func main() {
	// .env is optional; real environment wins
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("exit", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		defer func() { _ = rdb.Close() }()
	}

	var broker api.EventBroker = api.NewBroker()
	if rdb != nil {
		broker = api.NewRedisBroker(rdb, logger.Named("broker"))
	}
	srv := api.NewServer(cfg, st, broker, logger)
	disp := srv.Dispatcher

	g, gctx := errgroup.WithContext(ctx)

	switch cfg.Webhook.Scheduler {
	case "redis":
		rs := webhooks.NewRedisScheduler(rdb, disp.Execute, logger.Named("scheduler"))
		disp.Scheduler = rs
		g.Go(func() error { return rs.Run(gctx) })
	default:
		ts := webhooks.NewTimerScheduler(disp.Execute, logger.Named("scheduler"))
		disp.Scheduler = ts
		g.Go(func() error { return ts.Run(gctx) })
	}

	sweeper := webhooks.NewWorker(st, disp.Execute, logger.Named("sweeper"))
	sweeper.Interval = cfg.Webhook.SweepInterval
	g.Go(func() error { return sweeper.Run(gctx) })

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("API listening",
			zap.String("addr", httpSrv.Addr),
			zap.String("version", buildinfo.Version),
			zap.String("scheduler", disp.Scheduler.Name()),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	logger.Info("shutdown complete")
	return err
}

// openStore uses Postgres when DATABASE_URL is set and an in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	if cfg.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
	}
	return pg, func() { _ = pg.Close() }, nil
}
