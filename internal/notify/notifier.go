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

// Package notify sends plain-text outcome emails to the distribution list.
// Delivery is best effort: no retry, no queue.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bcem/errorintake/internal/config"
)

// SendFunc matches smtp.SendMail so tests can capture messages.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier composes and sends outcome emails.
type Notifier struct {
	from       string
	recipients []string
	addr       string
	auth       smtp.Auth
	send       SendFunc
	now        func() time.Time
}

// NotifierConfig holds the settings for a Notifier.
type NotifierConfig struct {
	From       string
	Recipients []string
	Addr       string
	Auth       smtp.Auth
	Send       SendFunc
}

// NewNotifier creates a notifier. A nil Send uses smtp.SendMail.
func NewNotifier(cfg NotifierConfig) *Notifier {
	send := cfg.Send
	if send == nil {
		send = smtp.SendMail
	}
	return &Notifier{
		from:       cfg.From,
		recipients: cfg.Recipients,
		addr:       cfg.Addr,
		auth:       cfg.Auth,
		send:       send,
		now:        time.Now,
	}
}

// FromConfig builds a notifier from the email section. The sender is
// derived from the local host identity and the configured domain.
func FromConfig(ec config.EmailConfig) *Notifier {
	var auth smtp.Auth
	if ec.Username != "" {
		auth = smtp.PlainAuth("", ec.Username, ec.Password, ec.Server)
	}
	return NewNotifier(NotifierConfig{
		From:       SenderAddress(HostIdentity(), ec.FromDomain),
		Recipients: ec.Recipients,
		Addr:       net.JoinHostPort(ec.Server, strconv.Itoa(ec.Port)),
		Auth:       auth,
	})
}

// HostIdentity returns the name this host reports as: COMPUTERNAME when set
// (Windows), otherwise the OS hostname.
func HostIdentity() string {
	if name := strings.TrimSpace(os.Getenv("COMPUTERNAME")); name != "" {
		return name
	}
	name, err := os.Hostname()
	if err != nil {
		slog.Warn("could not resolve hostname", "error", err)
		return "localhost"
	}
	return name
}

// SenderAddress formats {host}@{domain}.
func SenderAddress(host, domain string) string {
	return fmt.Sprintf("%s@%s", host, domain)
}

// Recipients returns the configured distribution list.
func (n *Notifier) Recipients() []string {
	return n.recipients
}

// Send delivers one message to every recipient. net/smtp takes no context,
// so ctx is accepted for interface symmetry only.
func (n *Notifier) Send(_ context.Context, subject, body string) error {
	if len(n.recipients) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	msg := n.compose(subject, body)
	if err := n.send(n.addr, n.auth, n.from, n.recipients, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", strings.Join(n.recipients, ", "), err)
	}

	slog.Info("notification sent",
		"recipients", strings.Join(n.recipients, ", "),
		"subject", subject,
	)
	return nil
}

// compose renders an RFC 5322 plain-text message.
func (n *Notifier) compose(subject, body string) []byte {
	var buf bytes.Buffer
	header := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}

	header("From", n.from)
	header("To", strings.Join(n.recipients, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Date", n.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	buf.WriteString("\r\n")

	// SMTP requires CRLF line endings in the body as well.
	body = strings.ReplaceAll(body, "\r\n", "\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return buf.Bytes()
}
