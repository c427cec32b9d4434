package payment

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// pushThrottle allows one outstanding push per phone within the cooldown.
// Without Redis every push is allowed.
type pushThrottle struct {
	rdb *redis.Client
	ttl time.Duration
}

func pushKey(phone string) string {
	return "mpesa:push:" + phone
}

func (t *pushThrottle) acquire(ctx context.Context, phone string) bool {
	if t == nil || t.rdb == nil || t.ttl <= 0 {
		return true
	}
	ok, err := t.rdb.SetNX(ctx, pushKey(phone), 1, t.ttl).Result()
	if err != nil {
		log.Warn().Err(err).Msg("push throttle unavailable, allowing request")
		return true
	}
	return ok
}

func (t *pushThrottle) release(ctx context.Context, phone string) {
	if t == nil || t.rdb == nil || t.ttl <= 0 {
		return
	}
	if err := t.rdb.Del(ctx, pushKey(phone)).Err(); err != nil {
		log.Warn().Err(err).Msg("failed to release push throttle")
	}
}
