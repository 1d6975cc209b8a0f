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

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcem/errorintake/internal/ledger"
	"github.com/bcem/errorintake/internal/metrics"
	"github.com/bcem/errorintake/internal/models"
)

// Scanner walks the source tree and hands every newly mirrored archive to
// visit.
type Scanner interface {
	Scan(ctx context.Context, visit ledger.VisitFunc) (ledger.ScanResult, error)
}

// SeverityPolicy picks the severity for a scan pass.
type SeverityPolicy interface {
	Assign(now time.Time) models.SeverityAssignment
}

// Gate paces archives.
type Gate interface {
	Wait(ctx context.Context) error
}

// RunResult summarises one scan pass.
type RunResult struct {
	Scan         ledger.ScanResult
	Severity     models.SeverityAssignment
	Filed        int
	Excluded     int
	FilingFailed int
	NotifyFailed int
	Elapsed      time.Duration
}

// Processed is the number of archives that went through the processor.
func (r RunResult) Processed() int {
	return r.Filed + r.Excluded + r.FilingFailed
}

// Runner performs scan passes.
type Runner struct {
	scanner   Scanner
	processor *Processor
	policy    SeverityPolicy
	gate      Gate
	now       func() time.Time
}

// RunnerConfig holds dependencies for the runner. Gate is optional.
type RunnerConfig struct {
	Scanner   Scanner
	Processor *Processor
	Policy    SeverityPolicy
	Gate      Gate
}

// NewRunner creates a runner.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		scanner:   cfg.Scanner,
		processor: cfg.Processor,
		policy:    cfg.Policy,
		gate:      cfg.Gate,
		now:       time.Now,
	}
}

// Run performs one scan pass. Severity is fixed at the start of the pass.
// Each new archive is processed and followed by a wait on the gate. Only a
// failure of the scan itself is returned.
func (r *Runner) Run(ctx context.Context) (RunResult, error) {
	start := r.now()
	result := RunResult{Severity: r.policy.Assign(start)}

	slog.Info("scan pass starting",
		"business_hours", result.Severity.BusinessHours,
		"urgency", result.Severity.Urgency,
		"impact", result.Severity.Impact,
	)

	proc := r.processor.ForPass(result.Severity)
	scan, err := r.scanner.Scan(ctx, func(ctx context.Context, archive models.DiscoveredArchive) error {
		report := proc.Process(ctx, archive)
		result.count(report)

		if r.gate == nil {
			return nil
		}
		return r.gate.Wait(ctx)
	})
	result.Scan = scan
	result.Elapsed = r.now().Sub(start)
	metrics.MarkScan(r.now())

	if err != nil {
		slog.Error("scan pass aborted",
			"processed", result.Processed(),
			"error", err,
		)
		return result, fmt.Errorf("scan pass: %w", err)
	}

	slog.Info("scan pass complete",
		"discovered", scan.Discovered,
		"mirrored", scan.Mirrored,
		"skipped", scan.Skipped,
		"errors", scan.Errors,
		"filed", result.Filed,
		"excluded", result.Excluded,
		"filing_failed", result.FilingFailed,
		"notify_failed", result.NotifyFailed,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

func (r *RunResult) count(report models.Report) {
	switch report.Outcome {
	case models.OutcomeFiled:
		r.Filed++
	case models.OutcomeExcluded:
		r.Excluded++
	case models.OutcomeFilingFailed:
		r.FilingFailed++
	}
	if !report.Notified {
		r.NotifyFailed++
	}
}
