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

// Error-report intake, long-running mode.
//
// Runs a scan pass immediately and then every poll_interval, serving
// /health and /metrics on metrics_port. Shuts down on SIGTERM/SIGINT after
// the archive in flight.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bcem/errorintake/internal/app"
	"github.com/bcem/errorintake/internal/config"
	"github.com/bcem/errorintake/internal/metrics"
	"github.com/bcem/errorintake/internal/server"
	"github.com/bcem/errorintake/internal/watch"
)

func main() {
	configFlag := flag.String("config", "", "Path to config.yaml (default: $CONFIG_PATH or /app/config/config.yaml)")
	flag.Parse()

	// --- Load Configuration ---
	cfg, err := config.Load(*configFlag)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(app.NewLogger(cfg.LogLevel))

	slog.Info("starting error-report intake watcher",
		"source", cfg.Intake.SourceDir,
		"mirror", cfg.Intake.MirrorDir,
		"poll_interval", cfg.Intake.PollInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to start intake", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Register(reg); err != nil {
		slog.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	// --- Health and metrics server ---
	ready, err := server.Serve(ctx, cfg.MetricsPort, server.NewHandler(server.HandlerConfig{
		Checks:   a.Checks,
		Gatherer: reg,
	}))
	if err != nil {
		slog.Error("failed to start metrics server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Poller ---
	done := make(chan struct{})
	go func() {
		watch.NewPoller(a.Runner, cfg.Intake.PollInterval).Run(ctx)
		close(done)
	}()

	// --- Graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received shutdown signal", "signal", sig)

	cancel()
	<-done
	slog.Info("intake watcher stopped")
}
