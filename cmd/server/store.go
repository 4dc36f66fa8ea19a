package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"

	"github.com/kirbo/go-sensormap/internal/backend"
	"github.com/kirbo/go-sensormap/internal/config"
	"github.com/kirbo/go-sensormap/internal/dashboard"
	"github.com/kirbo/go-sensormap/internal/models"
	"github.com/kirbo/go-sensormap/internal/store"
)

func retry(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(bo, 5), ctx)
}

// openBackend returns the configured backend, a readiness probe and a
// cleanup function.
func openBackend(ctx context.Context, cfg models.Config, logger *slog.Logger) (dashboard.Backend, func(context.Context) error, func(), error) {
	switch cfg.Backend {
	case config.BackendREST:
		client := backend.New(cfg.REST.BaseURL, backend.Options{
			Timeout:         config.CallTimeout(cfg),
			BreakerFailures: cfg.REST.BreakerFailures,
			BreakerOpenFor:  time.Duration(cfg.REST.BreakerOpenMs) * time.Millisecond,
			Logger:          logger,
		})
		logger.Info("using rest backend", "url", cfg.REST.BaseURL)
		return client, client.Ready, func() {}, nil
	default:
		st, err := openStore(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		closeStore := func() {
			if err := st.Close(); err != nil {
				logger.Warn("close store", "error", err)
			}
		}
		return st, st.Ping, closeStore, nil
	}
}

func openStore(ctx context.Context, cfg models.DatabaseConfig, logger *slog.Logger) (*store.Store, error) {
	st, err := store.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	err = backoff.Retry(func() error {
		if err := st.Ping(ctx); err != nil {
			logger.Warn("database not reachable", "driver", cfg.Driver, "error", err)
			return err
		}
		return nil
	}, retry(ctx))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}

	if err := st.InitSchema(ctx); err != nil {
		st.Close()
		return nil, err
	}
	logger.Info("database connected", "driver", cfg.Driver)
	return st, nil
}

func connectRedis(ctx context.Context, cfg models.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := backoff.Retry(func() error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable", "addr", addr, "error", err)
			return err
		}
		return nil
	}, retry(ctx))
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}

	logger.Info("redis connected", "addr", addr)
	return rdb, nil
}
