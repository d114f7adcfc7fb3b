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

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/invoicer/internal/config"
	"github.com/bcem/invoicer/internal/dedup"
	"github.com/bcem/invoicer/internal/dispatch"
	"github.com/bcem/invoicer/internal/ledger"
	"github.com/bcem/invoicer/internal/queue"
	"github.com/bcem/invoicer/internal/tokencache"
)

// sinks are the optional delivery record backends. Any that cannot be
// reached is skipped with a warning; a run never fails because of them.
type sinks struct {
	recorders []dispatch.Recorder
	sent      dispatch.SentFilter
	closers   []func()
}

func openSinks(ctx context.Context, cfg *config.Config) *sinks {
	s := &sinks{}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Warn("invalid redis_url, delivery events disabled", "error", err)
		} else {
			rdb := redis.NewClient(opt)
			pub := queue.NewPublisher(rdb, cfg.EventsQueue)
			if err := pub.Ping(ctx); err != nil {
				slog.Warn("redis unreachable, delivery events disabled", "error", err)
				rdb.Close()
			} else {
				s.recorders = append(s.recorders, pub)
				s.sent = dedup.NewFilter(rdb)
				s.closers = append(s.closers, func() { rdb.Close() })
				slog.Debug("delivery events enabled", "queue", cfg.EventsQueue)
			}
		}
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Warn("invalid database_url, delivery ledger disabled", "error", err)
		} else if store, err := ledger.NewStore(ctx, pool); err != nil {
			slog.Warn("postgres unreachable, delivery ledger disabled", "error", err)
			pool.Close()
		} else {
			s.recorders = append(s.recorders, store)
			s.closers = append(s.closers, pool.Close)
		}
	}

	return s
}

// Close releases every backend connection.
func (s *sinks) Close() {
	for _, c := range s.closers {
		c()
	}
}

// openTokenCache returns the Redis-backed cache when oauth.cache_url is set,
// otherwise the JSON file at oauth.cache_path. A corrupt file is an error.
func openTokenCache(cfg *config.Config) (tokencache.Store, func(), error) {
	if cfg.OAuth.CacheURL != "" {
		opt, err := redis.ParseURL(cfg.OAuth.CacheURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse oauth cache_url: %w", err)
		}
		rdb := redis.NewClient(opt)
		return tokencache.NewRedisStore(rdb, ""), func() { rdb.Close() }, nil
	}

	store, err := tokencache.Open(cfg.OAuth.CachePath)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}
