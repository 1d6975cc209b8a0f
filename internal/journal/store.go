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

// Package journal keeps a Postgres record of every processed archive:
// what was filed, under which ticket, and which steps failed. The mirror
// tree remains the dedup ledger; the journal is for operators.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/errorintake/internal/models"
)

// Entry is one journalled archive.
type Entry struct {
	ID            int64
	RelativePath  string
	MirrorPath    string
	Workstation   string
	UserCode      string
	Comment       string
	Outcome       string
	TicketNumber  string
	SysID         string
	CorrelationID string
	Urgency       string
	Impact        string
	Attached      bool
	Notified      bool
	Errors        string
	ModifiedAt    time.Time
	ProcessedAt   time.Time
}

// Store persists entries in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a journal backed by the given Postgres pool.
// It ensures the intake_reports table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure journal schema: %w", err)
	}
	slog.Info("report journal initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS intake_reports (
			id              BIGSERIAL PRIMARY KEY,
			relative_path   TEXT NOT NULL UNIQUE,
			mirror_path     TEXT NOT NULL,
			workstation     TEXT DEFAULT '',
			user_code       TEXT DEFAULT '',
			comment         TEXT DEFAULT '',
			outcome         TEXT NOT NULL,
			ticket_number   TEXT DEFAULT '',
			sys_id          TEXT DEFAULT '',
			correlation_id  TEXT DEFAULT '',
			urgency         TEXT DEFAULT '',
			impact          TEXT DEFAULT '',
			attached        BOOLEAN DEFAULT FALSE,
			notified        BOOLEAN DEFAULT FALSE,
			errors          TEXT DEFAULT '',
			modified_at     TIMESTAMPTZ NOT NULL,
			processed_at    TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_reports_processed ON intake_reports(processed_at);
		CREATE INDEX IF NOT EXISTS idx_reports_outcome ON intake_reports(outcome);
	`)
	return err
}

// Record upserts the journal entry for a report, keyed on relative path.
func (s *Store) Record(ctx context.Context, report models.Report) error {
	e := EntryFromReport(report)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO intake_reports
			(relative_path, mirror_path, workstation, user_code, comment, outcome,
			 ticket_number, sys_id, correlation_id, urgency, impact,
			 attached, notified, errors, modified_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (relative_path) DO UPDATE SET
			outcome        = EXCLUDED.outcome,
			ticket_number  = EXCLUDED.ticket_number,
			sys_id         = EXCLUDED.sys_id,
			correlation_id = EXCLUDED.correlation_id,
			attached       = EXCLUDED.attached,
			notified       = EXCLUDED.notified,
			errors         = EXCLUDED.errors,
			processed_at   = EXCLUDED.processed_at
	`, e.RelativePath, e.MirrorPath, e.Workstation, e.UserCode, e.Comment, e.Outcome,
		e.TicketNumber, e.SysID, e.CorrelationID, e.Urgency, e.Impact,
		e.Attached, e.Notified, e.Errors, e.ModifiedAt, e.ProcessedAt)
	if err != nil {
		return fmt.Errorf("record report %s: %w", e.RelativePath, err)
	}
	return nil
}

// Recent returns the latest entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, relative_path, mirror_path, workstation, user_code, comment,
		       outcome, ticket_number, sys_id, correlation_id, urgency, impact,
		       attached, notified, errors, modified_at, processed_at
		FROM intake_reports
		ORDER BY processed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Ping checks the Postgres connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EntryFromReport flattens a pipeline report into a journal row.
func EntryFromReport(r models.Report) Entry {
	e := Entry{
		RelativePath: r.Archive.RelativePath,
		MirrorPath:   r.Archive.MirrorPath,
		Workstation:  r.Workstation,
		Outcome:      string(r.Outcome),
		Urgency:      r.Severity.Urgency,
		Impact:       r.Severity.Impact,
		Attached:     r.Attached,
		Notified:     r.Notified,
		ModifiedAt:   r.Archive.ModifiedAt,
		ProcessedAt:  r.FinishedAt,
	}
	if r.Metadata.UserCode != nil {
		e.UserCode = *r.Metadata.UserCode
	}
	if r.Metadata.Comment != nil {
		e.Comment = *r.Metadata.Comment
	}
	if r.Incident != nil {
		e.TicketNumber = r.Incident.Number
		e.SysID = r.Incident.SysID
		e.CorrelationID = r.Incident.CorrelationID
	}

	var errs []string
	for _, step := range []struct{ name, msg string }{
		{"extract", r.ExtractError},
		{"filing", r.FilingError},
		{"attach", r.AttachError},
		{"notify", r.NotifyError},
	} {
		if step.msg != "" {
			errs = append(errs, step.name+": "+step.msg)
		}
	}
	e.Errors = strings.Join(errs, "; ")
	return e
}

// collectEntries scans multiple rows into a slice of Entries.
func collectEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.RelativePath, &e.MirrorPath, &e.Workstation, &e.UserCode, &e.Comment,
			&e.Outcome, &e.TicketNumber, &e.SysID, &e.CorrelationID, &e.Urgency, &e.Impact,
			&e.Attached, &e.Notified, &e.Errors, &e.ModifiedAt, &e.ProcessedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
