package database

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisPool sizes the Redis connection pool
type RedisPool struct {
	Size    int
	MinIdle int
}

// DefaultRedisPool is used by the API, which throttles pushes and fans out
// realtime events on every request path.
var DefaultRedisPool = RedisPool{Size: 50, MinIdle: 10}

// NewRedis connects to Redis and verifies the connection.
// An empty redisURL returns a nil client: push throttling, the shared gateway
// token cache and cross-instance realtime fan-out are then disabled.
func NewRedis(redisURL string, pool RedisPool) (*redis.Client, error) {
	if redisURL == "" {
		log.Warn().Msg("Redis URL not configured, running without Redis")
		return nil, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	opt.PoolSize = pool.Size
	opt.MinIdleConns = pool.MinIdle
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	log.Info().Str("addr", opt.Addr).Int("pool_size", pool.Size).Msg("Connected to Redis")
	return client, nil
}

// CloseRedis closes the client; nil is a no-op
func CloseRedis(client *redis.Client) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing Redis connection")
	}
}
