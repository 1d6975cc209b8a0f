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
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bcem/errorintake/internal/exclusion"
	"github.com/bcem/errorintake/internal/models"
)

// --- Fakes ---

type fakeExtractor struct {
	meta models.ArchiveMetadata
	err  error
}

func (f *fakeExtractor) Extract(string) (models.ArchiveMetadata, error) {
	return f.meta, f.err
}

type fakeFiler struct {
	mu       sync.Mutex
	requests []models.IncidentRequest
	record   models.IncidentRecord
	err      error
}

func (f *fakeFiler) CreateIncident(_ context.Context, in models.IncidentRequest) (models.IncidentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, in)
	if f.err != nil {
		return models.IncidentRecord{}, f.err
	}
	rec := f.record
	rec.CorrelationID = in.CorrelationID
	return rec, nil
}

func (f *fakeFiler) calls() []models.IncidentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.IncidentRequest(nil), f.requests...)
}

type upload struct {
	sysID string
	path  string
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (f *fakeUploader) AttachFile(_ context.Context, sysID, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, upload{sysID, path})
	return f.err
}

func (f *fakeUploader) calls() []upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upload(nil), f.uploads...)
}

type mail struct {
	subject string
	body    string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []mail
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, mail{subject, body})
	return f.err
}

func (f *fakeNotifier) mails() []mail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mail(nil), f.sent...)
}

type fakeSink struct {
	mu      sync.Mutex
	reports []models.Report
	err     error
}

func (f *fakeSink) Record(_ context.Context, r models.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return f.err
}

func (f *fakeSink) Publish(ctx context.Context, r models.Report) error {
	return f.Record(ctx, r)
}

// --- Test helpers ---

var (
	reportTime = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	daySev     = models.SeverityAssignment{Urgency: "3", Impact: "3", BusinessHours: true}
)

func strPtr(s string) *string { return &s }

type harness struct {
	extractor *fakeExtractor
	filer     *fakeFiler
	uploader  *fakeUploader
	notifier  *fakeNotifier
	sink      *fakeSink
	proc      *Processor
}

func newHarness(meta models.ArchiveMetadata, excl *exclusion.Registry) *harness {
	h := &harness{
		extractor: &fakeExtractor{meta: meta},
		filer:     &fakeFiler{record: models.IncidentRecord{Number: "INC0012345", SysID: "abc123"}},
		uploader:  &fakeUploader{},
		notifier:  &fakeNotifier{},
		sink:      &fakeSink{},
	}
	if excl == nil {
		excl = exclusion.New(nil, nil)
	}
	h.proc = NewProcessor(ProcessorConfig{
		Extractor:  h.extractor,
		Exclusions: excl,
		Filer:      h.filer,
		Uploader:   h.uploader,
		Notifier:   h.notifier,
		Journal:    h.sink,
		Defaults: TicketDefaults{
			ConfigurationItem: "Agility Client",
			TicketType:        "incident",
			AssignmentGroup:   "Service Desk",
		},
		Severity: daySev,
		Location: time.UTC,
	})
	h.proc.newID = func() string { return "corr-1" }
	return h
}

func testArchive() models.DiscoveredArchive {
	return models.DiscoveredArchive{
		SourcePath:   "/src/WS01/ErrorReport_1.zip",
		RelativePath: "WS01/ErrorReport_1.zip",
		MirrorPath:   "/mirror/WS01/ErrorReport_1.zip",
		ModifiedAt:   reportTime,
	}
}

func trailOf(states ...models.State) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

func trailString(r models.Report) string {
	return trailOf(r.Trail...)
}

const wantTitle = "Client Error Report for WS01 at 2026-03-04 05:06:07"

// --- Tests ---

// TestProcess_FiledAndAttached covers the happy path: a ticket is filed,
// the archive attached and the subject carries the ticket number.
func TestProcess_FiledAndAttached(t *testing.T) {
	h := newHarness(models.ArchiveMetadata{Comment: strPtr("disk full"), UserCode: strPtr("jdoe")}, nil)

	report := h.proc.Process(context.Background(), testArchive())

	if report.Outcome != models.OutcomeFiled {
		t.Errorf("outcome = %q, want filed", report.Outcome)
	}
	want := trailOf(models.StateMirrored, models.StateMetadataExtracted, models.StateFiled, models.StateNotified, models.StateDone)
	if got := trailString(report); got != want {
		t.Errorf("trail = %s, want %s", got, want)
	}

	reqs := h.filer.calls()
	if len(reqs) != 1 {
		t.Fatalf("incident requests = %d, want 1", len(reqs))
	}
	req := reqs[0]
	if req.Summary != wantTitle {
		t.Errorf("summary = %q", req.Summary)
	}
	if req.AffectedUserID == nil || *req.AffectedUserID != "jdoe" {
		t.Errorf("affected user = %v, want jdoe", req.AffectedUserID)
	}
	if req.Urgency != "3" || req.Impact != "3" {
		t.Errorf("severity = %s/%s, want 3/3", req.Urgency, req.Impact)
	}
	if req.CorrelationID != "corr-1" || req.AssignmentGroup != "Service Desk" || req.ConfigurationItem != "Agility Client" {
		t.Errorf("static fields not forwarded: %+v", req)
	}
	if req.Description != "Content of comment.txt:\ndisk full\nUserID: jdoe\nWorkstation: WS01" {
		t.Errorf("description = %q", req.Description)
	}

	ups := h.uploader.calls()
	if len(ups) != 1 || ups[0].sysID != "abc123" || ups[0].path != "/mirror/WS01/ErrorReport_1.zip" {
		t.Errorf("uploads = %+v, want one upload of the mirror copy to abc123", ups)
	}
	if !report.Attached {
		t.Error("report should be marked attached")
	}

	mails := h.notifier.mails()
	if len(mails) != 1 {
		t.Fatalf("mails = %d, want 1", len(mails))
	}
	if mails[0].subject != wantTitle+" Ticket: INC0012345" {
		t.Errorf("subject = %q", mails[0].subject)
	}
	if mails[0].body != req.Description {
		t.Errorf("body should match the incident description, got %q", mails[0].body)
	}
	if len(h.sink.reports) != 1 {
		t.Errorf("journal records = %d, want 1", len(h.sink.reports))
	}
}

// TestProcess_ExcludedUser verifies an excluded user gets no ticket but
// still produces exactly one email.
func TestProcess_ExcludedUser(t *testing.T) {
	excl := exclusion.New(nil, []string{"jdoe"})
	h := newHarness(models.ArchiveMetadata{Comment: strPtr("x"), UserCode: strPtr("jdoe")}, excl)

	report := h.proc.Process(context.Background(), testArchive())

	if report.Outcome != models.OutcomeExcluded {
		t.Errorf("outcome = %q, want excluded", report.Outcome)
	}
	if n := len(h.filer.calls()); n != 0 {
		t.Errorf("incident requests = %d, want 0", n)
	}
	if n := len(h.uploader.calls()); n != 0 {
		t.Errorf("uploads = %d, want 0", n)
	}
	mails := h.notifier.mails()
	if len(mails) != 1 || mails[0].subject != wantTitle+" (Ticket Exclusion)" {
		t.Errorf("mails = %+v, want one exclusion notice", mails)
	}
}

// TestProcess_ExcludedComputer verifies the workstation exclusion applies
// even when no user code was found.
func TestProcess_ExcludedComputer(t *testing.T) {
	excl := exclusion.New([]string{"WS01"}, nil)
	h := newHarness(models.ArchiveMetadata{}, excl)

	report := h.proc.Process(context.Background(), testArchive())

	if report.Outcome != models.OutcomeExcluded {
		t.Errorf("outcome = %q, want excluded", report.Outcome)
	}
	if n := len(h.filer.calls()); n != 0 {
		t.Errorf("incident requests = %d, want 0", n)
	}
}

// TestProcess_FilingFailure verifies a failed create skips the upload and
// sends the failure subject.
func TestProcess_FilingFailure(t *testing.T) {
	h := newHarness(models.ArchiveMetadata{Comment: strPtr("x"), UserCode: strPtr("jdoe")}, nil)
	h.filer.err = errors.New("create incident returned HTTP 500")

	report := h.proc.Process(context.Background(), testArchive())

	if report.Outcome != models.OutcomeFilingFailed {
		t.Errorf("outcome = %q, want filing_failed", report.Outcome)
	}
	if report.FilingError == "" {
		t.Error("filing error should be recorded")
	}
	if report.Incident != nil {
		t.Errorf("incident = %+v, want nil", report.Incident)
	}
	if n := len(h.uploader.calls()); n != 0 {
		t.Errorf("uploads = %d, want 0", n)
	}
	mails := h.notifier.mails()
	if len(mails) != 1 || mails[0].subject != wantTitle+" (Ticket Creation Failure)" {
		t.Errorf("mails = %+v, want one failure notice", mails)
	}
	want := trailOf(models.StateMirrored, models.StateMetadataExtracted, models.StateFilingFailed, models.StateNotified, models.StateDone)
	if got := trailString(report); got != want {
		t.Errorf("trail = %s, want %s", got, want)
	}
}

// TestProcess_MissingHandles verifies a created ticket without a sys_id is
// not attached to and the subject reports a creation failure.
func TestProcess_MissingHandles(t *testing.T) {
	h := newHarness(models.ArchiveMetadata{Comment: strPtr("x")}, nil)
	h.filer.record = models.IncidentRecord{Number: "INC0012345"}

	report := h.proc.Process(context.Background(), testArchive())

	if report.Outcome != models.OutcomeFiled {
		t.Errorf("outcome = %q, want filed", report.Outcome)
	}
	if n := len(h.uploader.calls()); n != 0 {
		t.Errorf("uploads = %d, want 0", n)
	}
	if report.Subject != wantTitle+" (Ticket Creation Failure)" {
		t.Errorf("subject = %q", report.Subject)
	}
}

// TestProcess_AttachFailureKeepsTicketSubject verifies an upload error is
// recorded but the email still names the ticket.
func TestProcess_AttachFailureKeepsTicketSubject(t *testing.T) {
	h := newHarness(models.ArchiveMetadata{Comment: strPtr("x")}, nil)
	h.uploader.err = errors.New("attachment upload returned HTTP 413")

	report := h.proc.Process(context.Background(), testArchive())

	if report.Attached || report.AttachError == "" {
		t.Errorf("attached = %v, error = %q", report.Attached, report.AttachError)
	}
	if report.Subject != wantTitle+" Ticket: INC0012345" {
		t.Errorf("subject = %q", report.Subject)
	}
}

// TestProcess_AbsentMetadata verifies an unreadable archive is still filed
// and notified with absent values rendered as None.
func TestProcess_AbsentMetadata(t *testing.T) {
	h := newHarness(models.ArchiveMetadata{}, nil)
	h.extractor.err = errors.New("zip: not a valid zip file")

	report := h.proc.Process(context.Background(), testArchive())

	if report.ExtractError == "" {
		t.Error("extract error should be recorded")
	}
	reqs := h.filer.calls()
	if len(reqs) != 1 {
		t.Fatalf("incident requests = %d, want 1", len(reqs))
	}
	if reqs[0].AffectedUserID != nil {
		t.Errorf("affected user = %q, want nil", *reqs[0].AffectedUserID)
	}
	mails := h.notifier.mails()
	if len(mails) != 1 {
		t.Fatalf("mails = %d, want 1", len(mails))
	}
	if want := "Content of comment.txt:\nNone\nUserID: None\nWorkstation: WS01"; mails[0].body != want {
		t.Errorf("body = %q, want %q", mails[0].body, want)
	}
}

// TestProcess_NotifyFailure verifies a failed email is recorded and does
// not stop the archive from completing.
func TestProcess_NotifyFailure(t *testing.T) {
	h := newHarness(models.ArchiveMetadata{Comment: strPtr("x")}, nil)
	h.notifier.err = errors.New("dial tcp: connection refused")
	h.sink.err = errors.New("journal down")

	report := h.proc.Process(context.Background(), testArchive())

	if report.Notified {
		t.Error("report should not be marked notified")
	}
	if report.NotifyError == "" {
		t.Error("notify error should be recorded")
	}
	if report.State() != models.StateDone {
		t.Errorf("state = %q, want done", report.State())
	}
}

// TestProcess_ForPassOverridesSeverity verifies the pass severity reaches
// the incident request.
func TestProcess_ForPassOverridesSeverity(t *testing.T) {
	h := newHarness(models.ArchiveMetadata{}, nil)
	night := models.SeverityAssignment{Urgency: "1", Impact: "2"}

	report := h.proc.ForPass(night).Process(context.Background(), testArchive())

	reqs := h.filer.calls()
	if len(reqs) != 1 || reqs[0].Urgency != "1" || reqs[0].Impact != "2" {
		t.Errorf("requests = %+v, want urgency 1 impact 2", reqs)
	}
	if report.Severity != night {
		t.Errorf("report severity = %+v, want %+v", report.Severity, night)
	}
}

// TestWorkstation covers directory derivation from relative paths.
func TestWorkstation(t *testing.T) {
	tests := []struct {
		rel  string
		want string
	}{
		{"WS01/ErrorReport_1.zip", "WS01"},
		{"site/WS01/ErrorReport_1.zip", "site/WS01"},
		{"/WS01/ErrorReport_1.zip", "WS01"},
		{"ErrorReport_1.zip", ""},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			if got := Workstation(tt.rel); got != tt.want {
				t.Errorf("Workstation(%q) = %q, want %q", tt.rel, got, tt.want)
			}
		})
	}
}
