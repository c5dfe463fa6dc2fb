package events

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/zhouzirui/ragbot/backend/internal/config"
)

// RedisSink publishes events through Redis pub/sub.
type RedisSink struct {
	inner *redis.Client
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(cfg config.EventsConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	return &RedisSink{inner: client}, nil
}

// Publish sends payload to channel.
func (s *RedisSink) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.inner.Publish(ctx, channel, payload).Err()
}

// Close closes the client.
func (s *RedisSink) Close() error {
	return s.inner.Close()
}
