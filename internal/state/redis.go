package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "conv:"

type redisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// OpenRedis connects and pings. Keys are "conv:<key>" and expire after ttl.
func OpenRedis(ctx context.Context, addr string, db int, ttl time.Duration) (Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("state: redis ping %s: %w", addr, err)
	}
	return &redisStore{rdb: rdb, ttl: ttl}, nil
}

func (s *redisStore) Load(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, redisPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *redisStore) Save(ctx context.Context, key string, value []byte) error {
	return s.rdb.Set(ctx, redisPrefix+key, value, s.ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, redisPrefix+key).Err()
}

func (s *redisStore) Close() error { return s.rdb.Close() }
