package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisURIFor builds a redis:// connection string from discrete
// host/port when RedisURI is not set directly.
func redisURIFor(cfg Config) string {
	if strings.TrimSpace(cfg.RedisURI) != "" {
		return cfg.RedisURI
	}
	if strings.TrimSpace(cfg.RedisHost) == "" {
		return ""
	}
	port := cfg.RedisPort
	if port == "" {
		port = "6379"
	}
	return "redis://" + cfg.RedisHost + ":" + port
}

// NewRedisClient parses cfg's redis connection settings and pings the
// deployment before returning. Returns (nil, nil) when no redis
// connection is configured at all, signaling dev/in-memory delivery.
func NewRedisClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	uri := redisURIFor(cfg)
	if uri == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, errors.New("app: invalid redis connection: " + err.Error())
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.New("app: redis ping failed: " + err.Error())
	}
	return client, nil
}
