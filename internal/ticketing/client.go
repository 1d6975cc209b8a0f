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

// Package ticketing files incidents and uploads attachments through the
// ServiceNow table and attachment REST APIs. Only the two calls the intake
// pipeline needs are implemented.
package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/errorintake/internal/config"
	"github.com/bcem/errorintake/internal/models"
)

// Client talks to one ServiceNow instance.
type Client struct {
	httpClient *http.Client
	baseURL    string
	table      string
	username   string
	password   string
}

// ClientConfig holds the connection settings for a Client.
type ClientConfig struct {
	HTTPClient *http.Client
	BaseURL    string
	Table      string
	// Username and Password enable basic auth. Leave empty when HTTPClient
	// already authenticates (OAuth2).
	Username string
	Password string
}

// NewClient creates a ticketing client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    cfg.BaseURL,
		table:      cfg.Table,
		username:   cfg.Username,
		password:   cfg.Password,
	}
}

// FromConfig builds a client from the ticketing section, using OAuth2 client
// credentials when a token URL is configured and basic auth otherwise.
func FromConfig(ctx context.Context, tc config.TicketingConfig) *Client {
	cfg := ClientConfig{
		BaseURL: tc.BaseURL,
		Table:   tc.Table,
	}

	if tc.OAuthEnabled() {
		creds := &clientcredentials.Config{
			ClientID:     tc.OAuth.ClientID,
			ClientSecret: tc.OAuth.ClientSecret,
			TokenURL:     tc.OAuth.TokenURL,
			Scopes:       tc.OAuth.Scopes,
		}
		cfg.HTTPClient = creds.Client(ctx)
	} else {
		cfg.HTTPClient = &http.Client{}
		cfg.Username = tc.Username
		cfg.Password = tc.Password
	}
	cfg.HTTPClient.Timeout = tc.Timeout

	return NewClient(cfg)
}

// createPayload is the import-table row sent on incident creation.
type createPayload struct {
	ShortDescription  string  `json:"u_short_description"`
	Description       string  `json:"u_description"`
	AffectedUserID    *string `json:"u_affected_user_id"`
	ConfigurationItem string  `json:"u_configuration_item"`
	ExternalUniqueID  string  `json:"u_external_unique_id"`
	Urgency           string  `json:"u_urgency"`
	Impact            string  `json:"u_impact"`
	Type              string  `json:"u_type"`
	AssignmentGroup   string  `json:"u_assignment_group"`
}

// createResponse holds the fields we read back from the create call.
type createResponse struct {
	Result struct {
		TaskString string `json:"u_task_string"`
		Task       struct {
			Value string `json:"value"`
		} `json:"u_task"`
	} `json:"result"`
}

// CreateIncident submits a create request. Any status other than 201 is an
// error. On success the ticket number and sys_id are returned as found; either
// may be empty.
func (c *Client) CreateIncident(ctx context.Context, in models.IncidentRequest) (models.IncidentRecord, error) {
	record := models.IncidentRecord{CorrelationID: in.CorrelationID}

	body, err := json.Marshal(createPayload{
		ShortDescription:  in.Summary,
		Description:       in.Description,
		AffectedUserID:    in.AffectedUserID,
		ConfigurationItem: in.ConfigurationItem,
		ExternalUniqueID:  in.CorrelationID,
		Urgency:           in.Urgency,
		Impact:            in.Impact,
		Type:              in.TicketType,
		AssignmentGroup:   in.AssignmentGroup,
	})
	if err != nil {
		return record, fmt.Errorf("marshal incident payload: %w", err)
	}

	url := fmt.Sprintf("%s/api/now/table/%s", c.baseURL, c.table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return record, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	slog.Debug("incident creation payload", "payload", string(body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return record, fmt.Errorf("create incident: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return record, fmt.Errorf("read create response: %w", err)
	}

	slog.Debug("incident creation response",
		"status", resp.StatusCode,
		"body", string(respBody),
	)

	if resp.StatusCode != http.StatusCreated {
		return record, fmt.Errorf("create incident failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed createResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		// The row was created; only the handles are unknown.
		slog.Warn("could not decode incident creation response", "error", err)
		return record, nil
	}

	record.Number = parsed.Result.TaskString
	record.SysID = parsed.Result.Task.Value
	return record, nil
}

// AttachFile uploads the file at path to the incident with the given sys_id.
func (c *Client) AttachFile(ctx context.Context, sysID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("table_name", c.table); err != nil {
		return fmt.Errorf("write table_name: %w", err)
	}
	if err := mw.WriteField("table_sys_id", sysID); err != nil {
		return fmt.Errorf("write table_sys_id: %w", err)
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	url := c.baseURL + "/api/now/attachment/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload attachment failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}
