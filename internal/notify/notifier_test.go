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

package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/bcem/errorintake/internal/config"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

// TestSend_ComposesMessage verifies headers, recipients and CRLF body.
func TestSend_ComposesMessage(t *testing.T) {
	var sent []sentMail
	n := NewNotifier(NotifierConfig{
		From:       "WS-INTAKE@example.com",
		Recipients: []string{"ops@example.com", "desk@example.com"},
		Addr:       "smtp.example.com:25",
		Send: func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
			return nil
		},
	})
	n.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	err := n.Send(context.Background(), "Client Error Report for WS-01 at 2026-03-04 05:06:07 Ticket: INC1", "line one\nline two")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	m := sent[0]
	if m.addr != "smtp.example.com:25" || m.from != "WS-INTAKE@example.com" || len(m.to) != 2 {
		t.Errorf("envelope = %+v", m)
	}

	for _, want := range []string{
		"From: WS-INTAKE@example.com\r\n",
		"To: ops@example.com, desk@example.com\r\n",
		"Subject: Client Error Report for WS-01 at 2026-03-04 05:06:07 Ticket: INC1\r\n",
		"Content-Type: text/plain",
		"\r\n\r\nline one\r\nline two",
	} {
		if !strings.Contains(m.msg, want) {
			t.Errorf("message missing %q:\n%s", want, m.msg)
		}
	}
}

// TestSend_TransportFailure verifies that delivery errors are returned, not swallowed.
func TestSend_TransportFailure(t *testing.T) {
	n := NewNotifier(NotifierConfig{
		From:       "a@b",
		Recipients: []string{"ops@example.com"},
		Send: func(string, smtp.Auth, string, []string, []byte) error {
			return errors.New("connection refused")
		},
	})

	err := n.Send(context.Background(), "s", "b")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err = %v, want transport error", err)
	}
}

// TestSend_NoRecipients verifies the empty distribution list guard.
func TestSend_NoRecipients(t *testing.T) {
	n := NewNotifier(NotifierConfig{From: "a@b"})
	if err := n.Send(context.Background(), "s", "b"); err == nil {
		t.Fatal("expected error with no recipients")
	}
}

// TestHostIdentity verifies the COMPUTERNAME override and sender format.
func TestHostIdentity(t *testing.T) {
	t.Setenv("COMPUTERNAME", "WS-INTAKE")
	if got := SenderAddress(HostIdentity(), "example.com"); got != "WS-INTAKE@example.com" {
		t.Errorf("sender = %q", got)
	}
}

// TestFromConfig verifies address and auth wiring.
func TestFromConfig(t *testing.T) {
	t.Setenv("COMPUTERNAME", "HOST1")
	n := FromConfig(config.EmailConfig{
		Server:     "smtp.example.com",
		Port:       587,
		Username:   "mailer",
		Password:   "pw",
		FromDomain: "example.com",
		Recipients: []string{"ops@example.com"},
	})

	if n.addr != "smtp.example.com:587" {
		t.Errorf("addr = %q", n.addr)
	}
	if n.from != "HOST1@example.com" {
		t.Errorf("from = %q", n.from)
	}
	if n.auth == nil {
		t.Error("auth should be set when a username is configured")
	}
}

// TestSend_IgnoresCancelledContext verifies a shutdown in progress does not
// suppress the email of the archive being finished.
func TestSend_IgnoresCancelledContext(t *testing.T) {
	sent := 0
	n := NewNotifier(NotifierConfig{
		From:       "WS-INTAKE@example.com",
		Recipients: []string{"ops@example.com"},
		Addr:       "smtp.example.com:25",
		Send: func(string, smtp.Auth, string, []string, []byte) error {
			sent++
			return nil
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := n.Send(ctx, "subject", "body"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if sent != 1 {
		t.Errorf("sent %d messages, want 1", sent)
	}
}
