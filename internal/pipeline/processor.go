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

// Package pipeline drives archives through extraction, exclusion, ticket
// filing, attachment and notification, and records what happened to each.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/errorintake/internal/metrics"
	"github.com/bcem/errorintake/internal/models"
)

// TimestampLayout formats the archive timestamp in subjects and summaries.
const TimestampLayout = "2006-01-02 15:04:05"

// absent is how a missing comment or user code is rendered in text.
const absent = "None"

// Extractor reads metadata out of a mirrored archive.
type Extractor interface {
	Extract(path string) (models.ArchiveMetadata, error)
}

// Exclusions answers whether a user or workstation must not get a ticket.
type Exclusions interface {
	IsExcludedUser(id string) bool
	IsExcludedComputer(name string) bool
}

// Filer creates incidents in the ticketing system.
type Filer interface {
	CreateIncident(ctx context.Context, in models.IncidentRequest) (models.IncidentRecord, error)
}

// Uploader attaches a file to an existing incident.
type Uploader interface {
	AttachFile(ctx context.Context, sysID, path string) error
}

// Notifier delivers the per-archive email.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

// Journal durably records finished reports.
type Journal interface {
	Record(ctx context.Context, report models.Report) error
}

// Publisher emits finished reports to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, report models.Report) error
}

// TicketDefaults are the static fields sent with every incident.
type TicketDefaults struct {
	ConfigurationItem string
	TicketType        string
	AssignmentGroup   string
}

// Processor runs the per-archive state machine.
type Processor struct {
	extractor  Extractor
	exclusions Exclusions
	filer      Filer
	uploader   Uploader
	notifier   Notifier
	journal    Journal
	publisher  Publisher
	defaults   TicketDefaults
	severity   models.SeverityAssignment
	location   *time.Location
	newID      func() string
	now        func() time.Time
}

// ProcessorConfig holds the collaborators of a Processor. Journal and
// Publisher are optional.
type ProcessorConfig struct {
	Extractor  Extractor
	Exclusions Exclusions
	Filer      Filer
	Uploader   Uploader
	Notifier   Notifier
	Journal    Journal
	Publisher  Publisher
	Defaults   TicketDefaults
	Severity   models.SeverityAssignment
	// Location used to render archive timestamps. Defaults to time.Local.
	Location *time.Location
}

// NewProcessor creates a Processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Processor{
		extractor:  cfg.Extractor,
		exclusions: cfg.Exclusions,
		filer:      cfg.Filer,
		uploader:   cfg.Uploader,
		notifier:   cfg.Notifier,
		journal:    cfg.Journal,
		publisher:  cfg.Publisher,
		defaults:   cfg.Defaults,
		severity:   cfg.Severity,
		location:   loc,
		newID:      func() string { return uuid.New().String() },
		now:        time.Now,
	}
}

// ForPass returns a copy of the processor that files tickets with the given
// severity.
func (p *Processor) ForPass(sev models.SeverityAssignment) *Processor {
	cp := *p
	cp.severity = sev
	return &cp
}

// Process takes one mirrored archive through extraction, exclusion, filing,
// attachment and notification. Step failures are recorded on the returned
// report and never abort the archive. Cancelling ctx does not interrupt an
// archive in flight; callers check it between archives.
func (p *Processor) Process(ctx context.Context, archive models.DiscoveredArchive) models.Report {
	ctx = context.WithoutCancel(ctx)

	report := models.Report{
		Archive:     archive,
		Workstation: Workstation(archive.RelativePath),
		Severity:    p.severity,
		StartedAt:   p.now(),
	}
	report.Advance(models.StateMirrored)

	meta, err := p.extractor.Extract(archive.MirrorPath)
	if err != nil {
		slog.Warn("archive unreadable, continuing without metadata",
			"archive", archive.RelativePath,
			"error", err,
		)
		report.ExtractError = err.Error()
		meta = models.ArchiveMetadata{}
	}
	report.Metadata = meta
	report.Advance(models.StateMetadataExtracted)

	title := Title(report.Workstation, archive.ModifiedAt.In(p.location))
	body := Body(meta, report.Workstation)

	if p.excluded(meta, report.Workstation) {
		slog.Info("archive excluded from ticketing",
			"archive", archive.RelativePath,
			"workstation", report.Workstation,
		)
		report.Outcome = models.OutcomeExcluded
		report.Advance(models.StateExcluded)
		report.Subject = title + " (Ticket Exclusion)"
		metrics.ObserveTicket(metrics.ResultSkipped)
	} else {
		report.Subject = p.file(ctx, &report, title, body)
	}

	if err := p.notifier.Send(ctx, report.Subject, body); err != nil {
		slog.Error("notification failed",
			"archive", archive.RelativePath,
			"subject", report.Subject,
			"error", err,
		)
		report.NotifyError = err.Error()
	} else {
		report.Notified = true
	}
	metrics.ObserveNotification(metrics.Result(err))
	report.Advance(models.StateNotified)

	report.Advance(models.StateDone)
	report.FinishedAt = p.now()
	p.record(ctx, report)
	metrics.ObserveArchive(string(report.Outcome), report.FinishedAt.Sub(report.StartedAt))

	slog.Info("archive processed",
		"archive", archive.RelativePath,
		"outcome", report.Outcome,
		"subject", report.Subject,
		"notified", report.Notified,
	)
	return report
}

// file creates the incident and uploads the archive, returning the subject
// line matching what succeeded.
func (p *Processor) file(ctx context.Context, report *models.Report, title, body string) string {
	failed := title + " (Ticket Creation Failure)"

	req := models.IncidentRequest{
		Summary:           title,
		Description:       body,
		AffectedUserID:    report.Metadata.UserCode,
		ConfigurationItem: p.defaults.ConfigurationItem,
		CorrelationID:     p.newID(),
		Urgency:           report.Severity.Urgency,
		Impact:            report.Severity.Impact,
		TicketType:        p.defaults.TicketType,
		AssignmentGroup:   p.defaults.AssignmentGroup,
	}

	rec, err := p.filer.CreateIncident(ctx, req)
	metrics.ObserveTicket(metrics.Result(err))
	if err != nil {
		slog.Error("incident creation failed",
			"archive", report.Archive.RelativePath,
			"correlation_id", req.CorrelationID,
			"error", err,
		)
		report.FilingError = err.Error()
		report.Outcome = models.OutcomeFilingFailed
		report.Advance(models.StateFilingFailed)
		return failed
	}

	report.Incident = &rec
	report.Outcome = models.OutcomeFiled
	report.Advance(models.StateFiled)

	if !rec.Attachable() {
		slog.Warn("incident created without number or sys_id, skipping attachment",
			"archive", report.Archive.RelativePath,
			"correlation_id", rec.CorrelationID,
			"number", rec.Number,
		)
		metrics.ObserveAttachment(metrics.ResultSkipped)
		return failed
	}

	err = p.uploader.AttachFile(ctx, rec.SysID, report.Archive.MirrorPath)
	metrics.ObserveAttachment(metrics.Result(err))
	if err != nil {
		slog.Error("attachment upload failed",
			"archive", report.Archive.RelativePath,
			"ticket", rec.Number,
			"error", err,
		)
		report.AttachError = err.Error()
	} else {
		report.Attached = true
	}

	return fmt.Sprintf("%s Ticket: %s", title, rec.Number)
}

func (p *Processor) excluded(meta models.ArchiveMetadata, workstation string) bool {
	if meta.UserCode != nil && p.exclusions.IsExcludedUser(*meta.UserCode) {
		return true
	}
	return p.exclusions.IsExcludedComputer(workstation)
}

// record hands the finished report to the optional journal and publisher.
func (p *Processor) record(ctx context.Context, report models.Report) {
	if p.journal != nil {
		if err := p.journal.Record(ctx, report); err != nil {
			slog.Warn("journal record failed", "archive", report.Archive.RelativePath, "error", err)
		}
	}
	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, report); err != nil {
			slog.Warn("event publish failed", "archive", report.Archive.RelativePath, "error", err)
		}
	}
}

// Workstation derives the workstation name from an archive's path relative
// to the source root: its directory part, slash-separated, without leading
// separators. Archives at the root have an empty workstation.
func Workstation(relativePath string) string {
	dir := filepath.Dir(relativePath)
	if dir == "." {
		return ""
	}
	return strings.TrimLeft(filepath.ToSlash(dir), "/")
}

// Title is the summary line shared by the incident and the email subject.
func Title(workstation string, at time.Time) string {
	return fmt.Sprintf("Client Error Report for %s at %s", workstation, at.Format(TimestampLayout))
}

// Body renders the notification body, which is also the incident description.
func Body(meta models.ArchiveMetadata, workstation string) string {
	return fmt.Sprintf("Content of comment.txt:\n%s\nUserID: %s\nWorkstation: %s",
		orAbsent(meta.Comment), orAbsent(meta.UserCode), workstation)
}

func orAbsent(s *string) string {
	if s == nil {
		return absent
	}
	return *s
}
