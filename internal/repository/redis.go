package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gymtrack/internal/config"
	"gymtrack/internal/domain"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "gymtrack"

// NewRedisClient builds a client from config; it does not dial.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// RedisStores keeps each namespace in one hash named "<prefix>:<namespace>".
type RedisStores struct {
	client *redis.Client
	prefix string
}

func NewRedisStores(client *redis.Client, prefix string) *RedisStores {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStores{client: client, prefix: prefix}
}

func (f *RedisStores) Namespace(name string) domain.Store {
	return &RedisStore{client: f.client, hash: fmt.Sprintf("%s:%s", f.prefix, name)}
}

type RedisStore struct {
	client *redis.Client
	hash   string
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if r.client == nil {
		return nil, false, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.HGet(ctx, r.hash, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.HSet(ctx, r.hash, key, value).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.HDel(ctx, r.hash, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s from redis: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Iterate(ctx context.Context, fn func(key string, value []byte) error) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	all, err := r.client.HGetAll(ctx, r.hash).Result()
	if err != nil {
		return fmt.Errorf("failed to read %s from redis: %w", r.hash, err)
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := fn(k, []byte(all[k])); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the client if present.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
