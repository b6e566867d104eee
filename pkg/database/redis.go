package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"marketplace_chat/pkg/config"
	errprocess "marketplace_chat/pkg/err"
)

// NewRedisClient opens a redis connection and verifies it with a ping.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.RedisDB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, errprocess.Set(fmt.Sprintf("failed to connect to redis: %v", err))
	}

	return rdb, nil
}
