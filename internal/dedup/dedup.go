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

// Package dedup remembers which invoices were already delivered to which
// recipients, so a rerun in the same month can warn before sending twice.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a delivery is remembered. Invoices are monthly,
	// so anything older than a quarter is no longer a duplicate risk.
	DefaultTTL = 90 * 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "invoicer:sent:"
)

// Filter tracks (invoice, recipient) pairs that were sent.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

func key(invoice, recipient string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, invoice, strings.ToLower(recipient))
}

// WasSent reports whether invoice was already delivered to recipient.
func (f *Filter) WasSent(ctx context.Context, invoice, recipient string) (bool, error) {
	n, err := f.rdb.Exists(ctx, key(invoice, recipient)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup EXISTS: %w", err)
	}
	return n > 0, nil
}

// MarkSent records a delivery. The first delivery's timestamp is kept when
// the pair is marked again.
func (f *Filter) MarkSent(ctx context.Context, invoice, recipient string, at time.Time) error {
	if err := f.rdb.SetNX(ctx, key(invoice, recipient), at.UTC().Format(time.RFC3339), f.ttl).Err(); err != nil {
		return fmt.Errorf("dedup SETNX: %w", err)
	}
	return nil
}
