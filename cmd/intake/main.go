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

// Error-report intake, one-shot mode.
//
// Walks the source tree once, mirrors every new error-report archive, files
// a ticket for it unless its user or workstation is excluded, and emails the
// outcome. Intended to run from cron or a task scheduler.
//
// Usage:
//
//	go run ./cmd/intake/ [--config config.yaml] [--recent 20]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/bcem/errorintake/internal/app"
	"github.com/bcem/errorintake/internal/config"
	"github.com/bcem/errorintake/internal/metrics"
)

func main() {
	// --- CLI Flags ---
	configFlag := flag.String("config", "", "Path to config.yaml (default: $CONFIG_PATH or /app/config/config.yaml)")
	recentFlag := flag.Int("recent", 0, "Print the N most recent journal entries and exit (requires database_url)")
	flag.Parse()

	// --- Load Configuration ---
	cfg, err := config.Load(*configFlag)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(app.NewLogger(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to start intake", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if *recentFlag > 0 {
		if a.Journal == nil {
			slog.Error("--recent needs a configured database_url")
			os.Exit(1)
		}
		entries, err := a.Journal.Recent(ctx, *recentFlag)
		if err != nil {
			slog.Error("failed to read journal", "error", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			slog.Error("failed to print journal", "error", err)
			os.Exit(1)
		}
		return
	}

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		slog.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	res, runErr := a.Runner.Run(ctx)

	if cfg.PushgatewayURL != "" {
		if err := push.New(cfg.PushgatewayURL, "error_intake").Gatherer(reg).Push(); err != nil {
			slog.Warn("failed to push metrics", "url", cfg.PushgatewayURL, "error", err)
		}
	}

	if runErr != nil {
		slog.Error("intake run failed", "error", runErr)
		a.Close()
		os.Exit(1)
	}

	slog.Info("intake run finished",
		"processed", res.Processed(),
		"filed", res.Filed,
		"excluded", res.Excluded,
		"filing_failed", res.FilingFailed,
		"notify_failed", res.NotifyFailed,
		"elapsed", res.Elapsed,
	)
}
