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

// Package app wires configuration into a ready-to-run intake pipeline. Both
// commands share it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/errorintake/internal/archive"
	"github.com/bcem/errorintake/internal/config"
	"github.com/bcem/errorintake/internal/dedup"
	"github.com/bcem/errorintake/internal/events"
	"github.com/bcem/errorintake/internal/exclusion"
	"github.com/bcem/errorintake/internal/journal"
	"github.com/bcem/errorintake/internal/ledger"
	"github.com/bcem/errorintake/internal/notify"
	"github.com/bcem/errorintake/internal/pacing"
	"github.com/bcem/errorintake/internal/pipeline"
	"github.com/bcem/errorintake/internal/server"
	"github.com/bcem/errorintake/internal/severity"
	"github.com/bcem/errorintake/internal/ticketing"
)

// App is a wired pipeline plus the connections it owns.
type App struct {
	Runner *pipeline.Runner
	// Checks are the optional backing services, keyed by name, for /health.
	Checks map[string]server.Pinger
	// Journal is nil unless a database is configured.
	Journal *journal.Store

	closers []func()
}

// Close releases every connection opened by Build.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// NewLogger returns a JSON logger on stdout at the named level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// Build loads the exclusion lists, connects to the optional Redis and
// Postgres backends and assembles the runner. Any failure is fatal for the
// caller; nothing is half-open on error.
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Checks: make(map[string]server.Pinger)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	excl, err := exclusion.Load(cfg.Exclusions.ComputerNamesPath, cfg.Exclusions.UserCodesPath)
	if err != nil {
		return nil, err
	}
	computers, users := excl.Len()
	slog.Info("exclusion lists loaded", "computers", computers, "users", users)

	policy, err := severity.NewPolicy(cfg.BusinessHours, cfg.Severity)
	if err != nil {
		return nil, fmt.Errorf("severity policy: %w", err)
	}

	ledgerCfg := ledger.Config{
		SourceDir:  cfg.Intake.SourceDir,
		MirrorDir:  cfg.Intake.MirrorDir,
		SearchTerm: cfg.Intake.SearchTerm,
	}

	procCfg := pipeline.ProcessorConfig{
		Extractor:  archive.NewExtractor(cfg.Intake.LogMarker),
		Exclusions: excl,
		Notifier:   notify.FromConfig(cfg.Email),
		Defaults: pipeline.TicketDefaults{
			ConfigurationItem: cfg.Ticketing.ConfigurationItem,
			TicketType:        cfg.Ticketing.TicketType,
			AssignmentGroup:   cfg.Ticketing.AssignmentGroup,
		},
	}

	tickets := ticketing.FromConfig(ctx, cfg.Ticketing)
	procCfg.Filer = tickets
	procCfg.Uploader = tickets

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		a.closers = append(a.closers, func() { rdb.Close() })

		filter := dedup.NewFilter(rdb, cfg.ClaimTTL)
		if err := filter.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		slog.Info("connected to Redis", "claim_ttl", cfg.ClaimTTL)

		ledgerCfg.Claimer = filter
		a.Checks["redis"] = filter

		if cfg.EventsList != "" {
			procCfg.Publisher = events.NewPublisher(rdb, cfg.EventsList)
			slog.Info("publishing intake events", "list", cfg.EventsList)
		}
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("create postgres pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		store, err := journal.NewStore(ctx, pool)
		if err != nil {
			return nil, err
		}
		slog.Info("connected to PostgreSQL")

		procCfg.Journal = store
		a.Journal = store
		a.Checks["postgres"] = store
	}

	a.Runner = pipeline.NewRunner(pipeline.RunnerConfig{
		Scanner:   ledger.New(ledgerCfg),
		Processor: pipeline.NewProcessor(procCfg),
		Policy:    policy,
		Gate:      pacing.NewGate(cfg.Intake.Pacing),
	})
	return a, nil
}
