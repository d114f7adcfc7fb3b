// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tokencache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding code -> refresh token.
const DefaultRedisKey = "invoicer:tokens"

// RedisStore keeps the cache in a single Redis hash, for operators who run
// the tool from more than one machine.
type RedisStore struct {
	rdb *redis.Client
	key string
}

// NewRedisStore creates a cache backed by the hash at key.
func NewRedisStore(rdb *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{rdb: rdb, key: key}
}

// Read returns the cached refresh token for code.
func (s *RedisStore) Read(ctx context.Context, code string) (string, bool, error) {
	token, err := s.rdb.HGet(ctx, s.key, code).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("token cache HGET: %w", err)
	}
	return token, token != "", nil
}

// Write stores refreshToken for code, replacing any previous value.
func (s *RedisStore) Write(ctx context.Context, code, refreshToken string) error {
	if err := s.rdb.HSet(ctx, s.key, code, refreshToken).Err(); err != nil {
		return fmt.Errorf("token cache HSET: %w", err)
	}
	return nil
}
