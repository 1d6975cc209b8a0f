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

// Package pacing puts a fixed pause between archives so the ticketing
// system sees a throttled request rate.
package pacing

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Gate is a fixed-interval gate. Every Wait blocks for one full interval
// counted from the call, however long the caller worked or idled before it.
type Gate struct {
	limit    rate.Limit
	interval time.Duration
}

// NewGate creates a gate. A non-positive interval disables pacing.
func NewGate(interval time.Duration) *Gate {
	if interval <= 0 {
		return &Gate{limit: rate.Inf}
	}
	return &Gate{
		limit:    rate.Every(interval),
		interval: interval,
	}
}

// Interval returns the configured pause.
func (g *Gate) Interval() time.Duration {
	return g.interval
}

// Wait pauses for one interval or until ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	if g.interval <= 0 {
		return nil
	}
	// Each pause starts from an empty bucket.
	limiter := rate.NewLimiter(g.limit, 1)
	limiter.Allow()
	return limiter.Wait(ctx)
}
