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

// Package watch runs scan passes on a fixed interval for the long-running
// intake service.
package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/bcem/errorintake/internal/pipeline"
)

// PassRunner performs one scan pass.
type PassRunner interface {
	Run(ctx context.Context) (pipeline.RunResult, error)
}

// Poller triggers scan passes. Passes never overlap: a pass that outlasts
// the interval delays the next tick.
type Poller struct {
	runner   PassRunner
	interval time.Duration
}

// NewPoller creates a poller that runs a pass every interval.
func NewPoller(runner PassRunner, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{runner: runner, interval: interval}
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("intake poller starting", "interval", p.interval)

	p.pass(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("intake poller stopping")
			return
		case <-ticker.C:
			p.pass(ctx)
		}
	}
}

func (p *Poller) pass(ctx context.Context) {
	res, err := p.runner.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("scan pass failed", "error", err)
		return
	}
	if res.Processed() > 0 {
		slog.Debug("scan pass processed archives", "processed", res.Processed())
	}
}
