// Package state persists per-chat conversation snapshots, either in the
// document store or in redis.
package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/storage"
)

var ErrNotFound = errors.New("state: not found")

// DefaultTTL bounds how long an abandoned conversation is remembered.
const DefaultTTL = 24 * time.Hour

// Store holds opaque JSON snapshots by key.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Driver    string // "store" (default) or "redis"
	RedisAddr string
	RedisDB   int
	TTL       time.Duration
}

// Key names the conversation of chatID with bot.
func Key(bot string, chatID int64) string {
	return bot + ":" + strconv.FormatInt(chatID, 10)
}

// Open selects the driver. docs backs the "store" driver.
func Open(ctx context.Context, cfg Config, docs storage.Store) (Store, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "store":
		if docs == nil {
			return nil, errors.New("state: store driver needs a document store")
		}
		return NewDocStore(docs, ttl), nil
	case "redis":
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisDB, ttl)
	default:
		return nil, fmt.Errorf("state: unknown driver %q", cfg.Driver)
	}
}
