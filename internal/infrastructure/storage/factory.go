package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/methics/musap-ios-sub000/internal/config"
	"github.com/methics/musap-ios-sub000/internal/domain/repository"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// NewKeyValueStore opens the engine selected by cfg.Driver.
func NewKeyValueStore(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (repository.KeyValueStore, error) {
	log = log.WithComponent("Storage")
	switch cfg.Driver {
	case config.DriverMemory, "":
		log.Info(ctx, "Using in-memory storage")
		return NewMemoryStore(), nil

	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Address, err)
		}
		log.Info(ctx, "Using redis storage", logger.String("address", cfg.Redis.Address))
		return NewRedisStore(client, cfg.Redis.KeyPrefix), nil

	case config.DriverSQL:
		store, err := OpenSQLStore(cfg.SQL)
		if err != nil {
			return nil, err
		}
		log.Info(ctx, "Using sql storage", logger.String("dialect", cfg.SQL.Dialect))
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
