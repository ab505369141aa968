// Package redisclient constructs and verifies the Redis connection
// used by the presence store, the EMA engine, and the fleet's
// pub/sub fan-out.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AtRiskMedia/presence-go/internal/infrastructure/config"
)

// New creates a Redis client from the process configuration and
// verifies connectivity with a bounded ping before returning.
func New() (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.RedisAddr,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		DialTimeout:  config.RedisDialTimeout,
		ReadTimeout:  config.RedisReadTimeout,
		WriteTimeout: config.RedisWriteTimeout,
		PoolSize:     config.RedisPoolSize,
		MinIdleConns: config.RedisMinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.RedisAddr, err)
	}

	return client, nil
}

// Close releases the underlying connection pool.
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
