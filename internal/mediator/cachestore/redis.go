// SPDX-License-Identifier: MIT

package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisNamespace = "voxsync:mediator:"

// Redis keeps each generation in one hash so a generation is dropped with a
// single DEL.
type Redis struct {
	client *redis.Client
	logger zerolog.Logger
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects and pings the server.
func NewRedis(config RedisConfig, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", config.Addr).
		Int("db", config.DB).
		Msg("connected to Redis mediator cache")
	return NewRedisWithClient(client, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, logger zerolog.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

func entriesKey(gen string) string  { return redisNamespace + "gen:" + gen + ":entries" }
func readyMarker(gen string) string { return redisNamespace + "gen:" + gen + ":ready" }
func generationsKey() string        { return redisNamespace + "generations" }
func currentGenerationKey() string  { return redisNamespace + "current" }

func (r *Redis) Get(ctx context.Context, gen, key string) (Snapshot, bool, error) {
	val, err := r.client.HGet(ctx, entriesKey(gen), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var out Snapshot
	if err := json.Unmarshal(val, &out); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("discarding unreadable cache entry")
		return Snapshot{}, false, nil
	}
	return out, true, nil
}

func (r *Redis) Put(ctx context.Context, gen, key string, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, entriesKey(gen), key, data)
		p.SAdd(ctx, generationsKey(), gen)
		return nil
	})
	return err
}

func (r *Redis) MarkReady(ctx context.Context, gen string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, readyMarker(gen), "1", 0)
		p.SAdd(ctx, generationsKey(), gen)
		return nil
	})
	return err
}

func (r *Redis) Ready(ctx context.Context, gen string) (bool, error) {
	n, err := r.client.Exists(ctx, readyMarker(gen)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Redis) Generations(ctx context.Context) ([]string, error) {
	gens, err := r.client.SMembers(ctx, generationsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(gens)
	return gens, nil
}

func (r *Redis) DropGeneration(ctx context.Context, gen string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, entriesKey(gen), readyMarker(gen))
		p.SRem(ctx, generationsKey(), gen)
		return nil
	})
	return err
}

func (r *Redis) SetCurrent(ctx context.Context, gen string) error {
	return r.client.Set(ctx, currentGenerationKey(), gen, 0).Err()
}

func (r *Redis) Current(ctx context.Context) (string, error) {
	v, err := r.client.Get(ctx, currentGenerationKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (r *Redis) Close() error { return r.client.Close() }

var _ Store = (*Redis)(nil)
