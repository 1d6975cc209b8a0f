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

// Package models defines the data structures shared across the intake pipeline.
package models

import "time"

// DiscoveredArchive is one source file found by the intake walk and mirrored
// into the destination tree.
type DiscoveredArchive struct {
	SourcePath   string    `json:"source_path"`
	RelativePath string    `json:"relative_path"`
	MirrorPath   string    `json:"mirror_path"`
	ModifiedAt   time.Time `json:"modified_at"`
}

// ArchiveMetadata is what the extractor could read from an archive.
// Both fields are optional; nil means the archive did not carry the value.
type ArchiveMetadata struct {
	Comment  *string `json:"comment"`
	UserCode *string `json:"user_code"`
}

// SeverityAssignment is the (urgency, impact) pair used for every ticket
// filed during one scan pass.
type SeverityAssignment struct {
	Urgency       string `json:"urgency"`
	Impact        string `json:"impact"`
	BusinessHours bool   `json:"business_hours"`
}

// IncidentRequest carries the fields of a ticket-creation call.
type IncidentRequest struct {
	Summary           string
	Description       string
	AffectedUserID    *string
	ConfigurationItem string
	CorrelationID     string
	Urgency           string
	Impact            string
	TicketType        string
	AssignmentGroup   string
}

// IncidentRecord is the remote ticket as returned by a successful create call.
// Number and SysID may each be empty when the response omitted them.
type IncidentRecord struct {
	Number        string `json:"number,omitempty"`
	SysID         string `json:"sys_id,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// Attachable reports whether the record carries everything an attachment
// upload needs.
func (r IncidentRecord) Attachable() bool {
	return r.Number != "" && r.SysID != ""
}

// State is a step of the per-archive state machine.
type State string

const (
	StateMirrored          State = "mirrored"
	StateMetadataExtracted State = "metadata_extracted"
	StateExcluded          State = "excluded"
	StateFiled             State = "filed"
	StateFilingFailed      State = "filing_failed"
	StateNotified          State = "notified"
	StateDone              State = "done"
)

// Outcome is the terminal classification of a processed archive.
type Outcome string

const (
	OutcomeFiled        Outcome = "filed"
	OutcomeExcluded     Outcome = "excluded"
	OutcomeFilingFailed Outcome = "filing_failed"
)

// Report is the full record of one archive's trip through the pipeline.
// Step errors are recoverable and kept as strings so the report can be
// journalled and published as JSON.
type Report struct {
	Archive      DiscoveredArchive  `json:"archive"`
	Workstation  string             `json:"workstation"`
	Metadata     ArchiveMetadata    `json:"metadata"`
	Severity     SeverityAssignment `json:"severity"`
	Incident     *IncidentRecord    `json:"incident,omitempty"`
	Outcome      Outcome            `json:"outcome"`
	Trail        []State            `json:"trail"`
	Subject      string             `json:"subject"`
	Attached     bool               `json:"attached"`
	Notified     bool               `json:"notified"`
	ExtractError string             `json:"extract_error,omitempty"`
	FilingError  string             `json:"filing_error,omitempty"`
	AttachError  string             `json:"attach_error,omitempty"`
	NotifyError  string             `json:"notify_error,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
}

// Advance appends a state to the report's trail.
func (r *Report) Advance(s State) {
	r.Trail = append(r.Trail, s)
}

// State returns the most recent state reached, or "" before the first step.
func (r *Report) State() State {
	if len(r.Trail) == 0 {
		return ""
	}
	return r.Trail[len(r.Trail)-1]
}
