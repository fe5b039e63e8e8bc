// Package cache mirrors the login service's realm list into Redis so that
// readers without a protocol client (the web front end) can display it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/l1jgo/realmd/internal/realm"
)

// WorldInfoKey holds the JSON array of world descriptors.
const WorldInfoKey = "worldinfo"

// Options selects the Redis instance.
type Options struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// RedisCache stores the realm list under WorldInfoKey.
type RedisCache struct {
	rdb *redis.Client
	key string
}

func NewRedisCache(opts Options) *RedisCache {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	return &RedisCache{
		rdb: redis.NewClient(&redis.Options{
			Addr:        opts.Addr,
			Password:    opts.Password,
			DB:          opts.DB,
			DialTimeout: opts.DialTimeout,
		}),
		key: WorldInfoKey,
	}
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// SetWorlds replaces the stored list. The value never expires; the login
// service rewrites it on every change.
func (c *RedisCache) SetWorlds(ctx context.Context, worlds []realm.WorldDescriptor) error {
	body, err := EncodeWorlds(worlds)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, c.key, body, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.key, err)
	}
	return nil
}

// GetWorlds reads the stored list. A missing key yields an empty list.
func (c *RedisCache) GetWorlds(ctx context.Context) ([]realm.WorldDescriptor, error) {
	body, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []realm.WorldDescriptor{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", c.key, err)
	}
	return DecodeWorlds(body)
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// EncodeWorlds renders the cached JSON form. A nil list encodes as [].
func EncodeWorlds(worlds []realm.WorldDescriptor) ([]byte, error) {
	if worlds == nil {
		worlds = []realm.WorldDescriptor{}
	}
	body, err := json.Marshal(worlds)
	if err != nil {
		return nil, fmt.Errorf("encode worldinfo: %w", err)
	}
	return body, nil
}

func DecodeWorlds(body []byte) ([]realm.WorldDescriptor, error) {
	var worlds []realm.WorldDescriptor
	if err := json.Unmarshal(body, &worlds); err != nil {
		return nil, fmt.Errorf("decode worldinfo: %w", err)
	}
	return worlds, nil
}
