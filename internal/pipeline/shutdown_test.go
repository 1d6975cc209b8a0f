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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bcem/errorintake/internal/exclusion"
	"github.com/bcem/errorintake/internal/models"
	"github.com/bcem/errorintake/internal/notify"
	"github.com/bcem/errorintake/internal/ticketing"
)

// TestProcess_ShutdownDuringFilingCompletesArchive cancels the caller's
// context while the incident is being created and verifies the archive
// still gets its ticket, attachment and email.
func TestProcess_ShutdownDuringFilingCompletesArchive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var attached bool
	snow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/now/table/"):
			cancel()
			// Give a cancellable request time to be torn down.
			time.Sleep(50 * time.Millisecond)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
				"u_task_string": "INC0012345",
				"u_task":        map[string]any{"value": "abc123"},
			}})
		case r.URL.Path == "/api/now/attachment/upload":
			mu.Lock()
			attached = true
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"result":{}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer snow.Close()

	client := ticketing.NewClient(ticketing.ClientConfig{
		BaseURL:  snow.URL,
		Table:    "u_integration_incident",
		Username: "svc",
		Password: "pw",
	})

	var subjects []string
	notifier := notify.NewNotifier(notify.NotifierConfig{
		From:       "WS-INTAKE@example.com",
		Recipients: []string{"ops@example.com"},
		Addr:       "smtp.example.com:25",
		Send: func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
			for _, line := range strings.Split(string(msg), "\r\n") {
				if s, ok := strings.CutPrefix(line, "Subject: "); ok {
					subjects = append(subjects, s)
				}
			}
			return nil
		},
	})

	mirror := writeMirrorCopy(t)
	proc := NewProcessor(ProcessorConfig{
		Extractor:  &fakeExtractor{meta: models.ArchiveMetadata{Comment: strPtr("x")}},
		Exclusions: exclusion.New(nil, nil),
		Filer:      client,
		Uploader:   client,
		Notifier:   notifier,
		Severity:   daySev,
		Location:   time.UTC,
	})

	archive := testArchive()
	archive.MirrorPath = mirror
	report := proc.Process(ctx, archive)

	if report.Outcome != models.OutcomeFiled {
		t.Errorf("outcome = %q (filing error %q), want filed", report.Outcome, report.FilingError)
	}
	mu.Lock()
	gotAttached := attached
	mu.Unlock()
	if !gotAttached || !report.Attached {
		t.Errorf("attachment uploaded = %v, report attached = %v (error %q)", gotAttached, report.Attached, report.AttachError)
	}
	if !report.Notified {
		t.Errorf("notified = false, error %q", report.NotifyError)
	}
	if len(subjects) != 1 || subjects[0] != wantTitle+" Ticket: INC0012345" {
		t.Errorf("subjects = %q, want one ticket email", subjects)
	}
}

// writeMirrorCopy writes a stand-in mirrored archive for the upload.
func writeMirrorCopy(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ErrorReport_1.zip")
	if err := os.WriteFile(path, []byte("PK"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
