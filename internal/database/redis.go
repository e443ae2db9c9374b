package database

import (
	"context"
	"fmt"

	"go-gin-event-registration/config"

	"github.com/redis/go-redis/v9"
)

func InitRedis(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s:%s: %w", cfg.Host, cfg.Port, err)
	}

	return rdb, nil
}
