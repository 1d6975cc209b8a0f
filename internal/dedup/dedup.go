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

// Package dedup provides cross-host claims using a Redis SET NX with TTL.
// When several intake hosts share a source tree, the first to claim an
// archive's relative path processes it; the others skip it.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a claim is remembered. The mirror tree is the
	// long-term ledger; the claim only has to outlive concurrent scans.
	DefaultTTL = 30 * 24 * time.Hour

	// keyPrefix namespaces claim keys in Redis.
	keyPrefix = "intake:claimed:"
)

// Filter tracks which archives have already been claimed.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a claim filter backed by Redis. A zero ttl uses DefaultTTL.
func NewFilter(rdb *redis.Client, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{
		rdb: rdb,
		ttl: ttl,
	}
}

// IsNew returns true if the key has NOT been claimed before.
// If true, the key is claimed atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, key string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, keyPrefix+key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}

	return set, nil
}

// Release drops a claim so the key can be taken again, used when the
// claimed archive could not be mirrored.
func (f *Filter) Release(ctx context.Context, key string) error {
	if err := f.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (f *Filter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return f.rdb.Ping(ctx).Err()
}
