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

// Package events publishes archive outcomes to a Redis list so downstream
// consumers (dashboards, chat bridges) can follow the intake job.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/errorintake/internal/models"
)

// EventType identifies report events on the list.
const EventType = "intake.report"

// Envelope wraps a report for transport.
type Envelope struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	OccurredAt string        `json:"occurred_at"`
	Report     models.Report `json:"report"`
}

// Publisher sends report events to a Redis list.
type Publisher struct {
	rdb      *redis.Client
	listName string
}

// NewPublisher creates a new Redis publisher targeting the specified list.
func NewPublisher(rdb *redis.Client, listName string) *Publisher {
	return &Publisher{
		rdb:      rdb,
		listName: listName,
	}
}

// NewEnvelope wraps a report with a fresh event id.
func NewEnvelope(report models.Report) Envelope {
	return Envelope{
		ID:         uuid.New().String(),
		Type:       EventType,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
		Report:     report,
	}
}

// Publish serialises the report and pushes it onto the list.
func (p *Publisher) Publish(ctx context.Context, report models.Report) error {
	env := NewEnvelope(report)

	msgJSON, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal report event: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.listName, string(msgJSON)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("published report event",
		"event_id", env.ID,
		"archive", report.Archive.RelativePath,
		"outcome", report.Outcome,
		"list", p.listName,
	)

	return nil
}
