package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"crossbridge/internal/config"
)

// RedisDB is a thin handle on the Redis client backing the DriftSignal
// stream fan-out (internal/infrastructure/stream). CrossBridge only needs
// Streams (XAdd/XRead, called directly against Client), so this type
// stays limited to connection lifecycle rather than wrapping every Redis
// command family.
type RedisDB struct {
	Client *redis.Client
	config *config.Config
	logger *logrus.Logger
}

// NewRedisDB dials Redis with pool settings sized for a bursty,
// low-volume workload (one stream write per accepted DriftSignal, not a
// per-request cache), and fails fast if the initial ping doesn't succeed.
func NewRedisDB(cfg *config.Config, logger *logrus.Logger) (*RedisDB, error) {
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.PoolSize = 10
	opt.PoolTimeout = 30 * time.Second
	opt.MinIdleConns = 2

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("connected to redis")
	return &RedisDB{Client: client, config: cfg, logger: logger}, nil
}

func (r *RedisDB) Close() error {
	r.logger.Info("closing redis connection")
	return r.Client.Close()
}

// Health satisfies handlers.Pinger for the readiness check.
func (r *RedisDB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.Client.Ping(ctx).Err()
}
