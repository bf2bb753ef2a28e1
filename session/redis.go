// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix prefixes every session hash stored by RedisStorage.
const DefaultRedisKeyPrefix = "idbroker:session:"

// RedisStorage stores each session as a redis hash.
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Storage = (*RedisStorage)(nil)

// NewRedisStorage creates a RedisStorage using the client.  A ttl of zero
// never expires sessions.
//
// Supported options: WithKeyPrefix
func NewRedisStorage(client redis.UniversalClient, ttl time.Duration, opt ...Option) (*RedisStorage, error) {
	const op = "NewRedisStorage"
	if client == nil {
		return nil, fmt.Errorf("%s: redis client is nil: %w", op, ErrNilParameter)
	}
	if ttl < 0 {
		return nil, fmt.Errorf("%s: ttl is negative: %w", op, ErrInvalidParameter)
	}
	opts := getStorageOpts(opt...)
	return &RedisStorage{
		client: client,
		prefix: opts.withKeyPrefix,
		ttl:    ttl,
	}, nil
}

// DialRedis connects to addr and pings it.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	const op = "DialRedis"
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: unable to ping %s: %w: %w", op, addr, ErrStorage, err)
	}
	return rdb, nil
}

func (s *RedisStorage) key(sessionId string) string {
	return s.prefix + sessionId
}

// Get returns the session's hash.
func (s *RedisStorage) Get(ctx context.Context, sessionId string) (map[string]string, error) {
	const op = "RedisStorage.Get"
	if sessionId == "" {
		return nil, fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	fields, err := s.client.HGetAll(ctx, s.key(sessionId)).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// Set replaces the session's hash and resets its ttl.
func (s *RedisStorage) Set(ctx context.Context, sessionId string, fields map[string]string) error {
	const op = "RedisStorage.Set"
	if sessionId == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	if len(fields) == 0 {
		return fmt.Errorf("%s: no fields: %w", op, ErrInvalidParameter)
	}
	values := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	key := s.key(sessionId)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values...)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}
	return nil
}

// Delete removes the session's hash.
func (s *RedisStorage) Delete(ctx context.Context, sessionId string) error {
	const op = "RedisStorage.Delete"
	if sessionId == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	if err := s.client.Del(ctx, s.key(sessionId)).Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}
	return nil
}
