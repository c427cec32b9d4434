package mpesa

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// refreshMargin is how long before expiry a cached token is considered stale.
const refreshMargin = 60 * time.Second

// TokenStore caches the OAuth access token.
type TokenStore interface {
	Get(ctx context.Context) (string, bool)
	Set(ctx context.Context, token string, ttl time.Duration)
	Delete(ctx context.Context)
}

// MemoryTokenStore keeps the token in process.
type MemoryTokenStore struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{now: time.Now}
}

func (s *MemoryTokenStore) Get(_ context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || !s.now().Before(s.expiresAt) {
		return "", false
	}
	return s.token, true
}

func (s *MemoryTokenStore) Set(_ context.Context, token string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expiresAt = s.now().Add(ttl)
}

func (s *MemoryTokenStore) Delete(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}

// RedisTokenStore shares one token between API and worker instances.
// Redis failures degrade to a fresh token fetch.
type RedisTokenStore struct {
	rdb *redis.Client
	key string
}

func NewRedisTokenStore(rdb *redis.Client, shortCode string) *RedisTokenStore {
	return &RedisTokenStore{rdb: rdb, key: "mpesa:token:" + shortCode}
}

func (s *RedisTokenStore) Get(ctx context.Context) (string, bool) {
	token, err := s.rdb.Get(ctx, s.key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Msg("mpesa token cache read failed")
		}
		return "", false
	}
	return token, token != ""
}

func (s *RedisTokenStore) Set(ctx context.Context, token string, ttl time.Duration) {
	if err := s.rdb.Set(ctx, s.key, token, ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("mpesa token cache write failed")
	}
}

func (s *RedisTokenStore) Delete(ctx context.Context) {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		log.Warn().Err(err).Msg("mpesa token cache delete failed")
	}
}

type tokenFetcher func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// tokenSource serializes refreshes so a burst of requests triggers one fetch.
type tokenSource struct {
	mu    sync.Mutex
	store TokenStore
	fetch tokenFetcher
}

func (s *tokenSource) Token(ctx context.Context) (string, error) {
	if token, ok := s.store.Get(ctx); ok {
		return token, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if token, ok := s.store.Get(ctx); ok {
		return token, nil
	}

	token, expiresIn, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}

	ttl := expiresIn - refreshMargin
	if ttl <= 0 {
		ttl = expiresIn / 2
	}
	if ttl > 0 {
		s.store.Set(ctx, token, ttl)
	}
	return token, nil
}

func (s *tokenSource) Invalidate(ctx context.Context) {
	s.store.Delete(ctx)
}
