// Package presence mirrors the engine's online set into Redis so other
// services can answer "is this user online" without talking to the engine.
package presence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Store writes presence keys.
type Store interface {
	SetOnline(ctx context.Context, user, node string, ttl time.Duration) error
	SetOffline(ctx context.Context, user string) error
}

// Key is the Redis key holding the node a user is connected to.
func Key(user string) string { return "chat:presence:" + user }

// RedisStore is the go-redis backed Store.
type RedisStore struct {
	rdb *redis.Client
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects and pings Redis.
func NewRedisStore(ctx context.Context, c RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "redis ping %s", c.Addr)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) SetOnline(ctx context.Context, user, node string, ttl time.Duration) error {
	return s.rdb.Set(ctx, Key(user), node, ttl).Err()
}

func (s *RedisStore) SetOffline(ctx context.Context, user string) error {
	return s.rdb.Del(ctx, Key(user)).Err()
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
