// Command server runs the price oracle as a standalone HTTP service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/quotient-labs/price-oracle/internal/app"
	"github.com/quotient-labs/price-oracle/internal/app/cache"
	"github.com/quotient-labs/price-oracle/internal/app/storage/postgres"
	"github.com/quotient-labs/price-oracle/internal/config"
	"github.com/quotient-labs/price-oracle/pkg/logger"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logger.NewDefault("server").WithError(err).Error("load configuration failed")
		os.Exit(1)
	}

	log := logger.New("server", logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores := app.Stores{}
	if cfg.DatabaseURL != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		store := postgres.New(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		stores = app.Stores{
			Feeds:         store,
			Schedules:     store,
			Quotes:        store,
			Subscriptions: store,
			Notifications: store,
		}
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_URL not set, using in-memory storage")
	}

	var c cache.Cache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		c = cache.NewRedis(client, cfg.CacheTTL, log.WithField("component", "cache"))
		log.Info("using redis cache")
	} else {
		c = cache.NewMemory(cfg.CacheTTL)
	}

	application, err := app.New(stores, app.Options{
		Cache:            c,
		Providers:        cfg.Providers,
		MinSources:       cfg.MinSources,
		SchedulerTick:    cfg.SchedulerTick,
		SchedulerBatch:   cfg.SchedulerBatch,
		SchedulerWorkers: cfg.SchedulerWorkers,
		NotifierWorkers:  cfg.NotifierWorkers,
	}, log)
	if err != nil {
		return err
	}

	if err := application.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           application.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown failed")
	}
	return application.Stop(shutdownCtx)
}
