package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	logx "schedrun/pkg/logx"
)

// redisStore maps flags to plain string keys. The value is the owner id of
// the process that set the flag, which makes locks attributable in redis-cli.
type redisStore struct {
	rdb   *redis.Client
	owner string
	log   logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, errors.New("redis url is required")
	}
	opt, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	return NewRedis(redis.NewClient(opt), log), nil
}

// NewRedis wraps an existing client. The store takes ownership of rdb.
func NewRedis(rdb *redis.Client, log logx.Logger) Store {
	return &redisStore{rdb: rdb, owner: uuid.NewString(), log: log}
}

func (s *redisStore) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisStore) Add(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, s.owner, redisTTL(ttl)).Result()
}

func (s *redisStore) Put(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, s.owner, redisTTL(ttl)).Err()
}

func (s *redisStore) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}

// go-redis treats 0 as "no expiration".
func redisTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return ttl
}
