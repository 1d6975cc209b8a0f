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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TimeOfDayLayout is the layout of the business-hours window bounds.
const TimeOfDayLayout = "15:04:05"

// IntakeConfig controls the source walk and the mirror ledger.
type IntakeConfig struct {
	SourceDir    string
	MirrorDir    string
	SearchTerm   string
	LogMarker    string
	Pacing       time.Duration
	PollInterval time.Duration
}

// EmailConfig holds SMTP settings for outcome notifications.
type EmailConfig struct {
	Server     string
	Port       int
	Username   string
	Password   string
	FromDomain string
	Recipients []string
}

// OAuthConfig enables client-credentials auth against the ticketing instance.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// TicketingConfig holds the ServiceNow instance, credentials and the static
// fields stamped on every incident.
type TicketingConfig struct {
	Instance          string
	BaseURL           string
	Table             string
	Username          string
	Password          string
	TicketType        string
	ConfigurationItem string
	AssignmentGroup   string
	Timeout           time.Duration
	OAuth             OAuthConfig
}

// BusinessHoursConfig is the daily weekday window, as HH:MM:SS strings.
type BusinessHoursConfig struct {
	Start    string
	End      string
	Location *time.Location
}

// SeverityConfig holds the four configured severity tokens.
type SeverityConfig struct {
	AfterHoursUrgency    string
	AfterHoursImpact     string
	BusinessHoursUrgency string
	BusinessHoursImpact  string
}

// ExclusionsConfig points at the two exclusion lists.
type ExclusionsConfig struct {
	ComputerNamesPath string
	UserCodesPath     string
}

// Config holds all configuration for the intake job.
type Config struct {
	Intake        IntakeConfig
	Email         EmailConfig
	Ticketing     TicketingConfig
	BusinessHours BusinessHoursConfig
	Severity      SeverityConfig
	Exclusions    ExclusionsConfig

	// Redis (optional: cross-host claims and the outcome feed)
	RedisURL   string
	ClaimTTL   time.Duration
	EventsList string

	// Postgres (optional: report journal)
	DatabaseURL string

	// Metrics
	MetricsPort    int
	PushgatewayURL string

	LogLevel string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Intake struct {
		SourceDir    string `yaml:"source_dir"`
		MirrorDir    string `yaml:"mirror_dir"`
		SearchTerm   string `yaml:"search_term"`
		LogMarker    string `yaml:"log_marker"`
		Pacing       string `yaml:"pacing"`
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"intake"`
	Email struct {
		SMTPServer string   `yaml:"smtp_server"`
		SMTPPort   int      `yaml:"smtp_port"`
		Username   string   `yaml:"username"`
		Password   string   `yaml:"password"`
		FromDomain string   `yaml:"from_domain"`
		Recipients []string `yaml:"recipients"`
	} `yaml:"email"`
	Ticketing struct {
		Instance          string `yaml:"instance"`
		BaseURL           string `yaml:"base_url"`
		Table             string `yaml:"table"`
		Username          string `yaml:"username"`
		Password          string `yaml:"password"`
		TicketType        string `yaml:"ticket_type"`
		ConfigurationItem string `yaml:"configuration_item"`
		AssignmentGroup   string `yaml:"assignment_group"`
		Timeout           string `yaml:"timeout"`
		OAuth             struct {
			TokenURL     string   `yaml:"token_url"`
			ClientID     string   `yaml:"client_id"`
			ClientSecret string   `yaml:"client_secret"`
			Scopes       []string `yaml:"scopes"`
		} `yaml:"oauth"`
	} `yaml:"ticketing"`
	BusinessHours struct {
		Start    string `yaml:"start"`
		End      string `yaml:"end"`
		Timezone string `yaml:"timezone"`
	} `yaml:"business_hours"`
	Severity struct {
		AfterHoursUrgency    string `yaml:"after_hours_urgency"`
		AfterHoursImpact     string `yaml:"after_hours_impact"`
		BusinessHoursUrgency string `yaml:"business_hours_urgency"`
		BusinessHoursImpact  string `yaml:"business_hours_impact"`
	} `yaml:"severity"`
	Exclusions struct {
		ComputerNamesPath string `yaml:"computer_names_path"`
		UserCodesPath     string `yaml:"user_codes_path"`
	} `yaml:"exclusions"`
	Redis struct {
		URL        string `yaml:"url"`
		ClaimTTL   string `yaml:"claim_ttl"`
		EventsList string `yaml:"events_list"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Metrics struct {
		Port           int    `yaml:"port"`
		PushgatewayURL string `yaml:"pushgateway_url"`
	} `yaml:"metrics"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Load reads configuration from the YAML file at path (with env var
// expansion). An empty path falls back to CONFIG_PATH, then the default
// container location.
func Load(path string) (*Config, error) {
	configPath := firstNonEmpty(path, envOrDefault("CONFIG_PATH", "/app/config/config.yaml"))

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	return build(raw)
}

func build(raw rawConfig) (*Config, error) {
	var errs []error
	duration := func(field, value string, fallback time.Duration) time.Duration {
		if strings.TrimSpace(value) == "" {
			return fallback
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", field, value))
			return fallback
		}
		return d
	}

	cfg := &Config{
		Intake: IntakeConfig{
			SourceDir:    raw.Intake.SourceDir,
			MirrorDir:    raw.Intake.MirrorDir,
			SearchTerm:   raw.Intake.SearchTerm,
			LogMarker:    firstNonEmpty(raw.Intake.LogMarker, "agility"),
			Pacing:       duration("intake.pacing", raw.Intake.Pacing, time.Second),
			PollInterval: duration("intake.poll_interval", raw.Intake.PollInterval, 5*time.Minute),
		},
		Email: EmailConfig{
			Server:     raw.Email.SMTPServer,
			Port:       raw.Email.SMTPPort,
			Username:   raw.Email.Username,
			Password:   raw.Email.Password,
			FromDomain: raw.Email.FromDomain,
			Recipients: cleanList(raw.Email.Recipients),
		},
		Ticketing: TicketingConfig{
			Instance:          raw.Ticketing.Instance,
			BaseURL:           strings.TrimRight(raw.Ticketing.BaseURL, "/"),
			Table:             raw.Ticketing.Table,
			Username:          raw.Ticketing.Username,
			Password:          raw.Ticketing.Password,
			TicketType:        raw.Ticketing.TicketType,
			ConfigurationItem: raw.Ticketing.ConfigurationItem,
			AssignmentGroup:   raw.Ticketing.AssignmentGroup,
			Timeout:           duration("ticketing.timeout", raw.Ticketing.Timeout, 30*time.Second),
			OAuth: OAuthConfig{
				TokenURL:     raw.Ticketing.OAuth.TokenURL,
				ClientID:     raw.Ticketing.OAuth.ClientID,
				ClientSecret: raw.Ticketing.OAuth.ClientSecret,
				Scopes:       cleanList(raw.Ticketing.OAuth.Scopes),
			},
		},
		BusinessHours: BusinessHoursConfig{
			Start:    firstNonEmpty(raw.BusinessHours.Start, "08:00:00"),
			End:      firstNonEmpty(raw.BusinessHours.End, "18:00:00"),
			Location: time.Local,
		},
		Severity: SeverityConfig{
			AfterHoursUrgency:    raw.Severity.AfterHoursUrgency,
			AfterHoursImpact:     raw.Severity.AfterHoursImpact,
			BusinessHoursUrgency: raw.Severity.BusinessHoursUrgency,
			BusinessHoursImpact:  raw.Severity.BusinessHoursImpact,
		},
		Exclusions: ExclusionsConfig{
			ComputerNamesPath: raw.Exclusions.ComputerNamesPath,
			UserCodesPath:     raw.Exclusions.UserCodesPath,
		},
		RedisURL:       firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
		ClaimTTL:       duration("redis.claim_ttl", raw.Redis.ClaimTTL, 30*24*time.Hour),
		EventsList:     raw.Redis.EventsList,
		DatabaseURL:    firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		MetricsPort:    raw.Metrics.Port,
		PushgatewayURL: raw.Metrics.PushgatewayURL,
		LogLevel:       firstNonEmpty(raw.Logging.Level, envOrDefault("LOG_LEVEL", "info")),
	}

	if cfg.Email.Port == 0 {
		cfg.Email.Port = envOrDefaultInt("SMTP_PORT", 25)
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = envOrDefaultInt("METRICS_PORT", 9090)
	}
	if cfg.Ticketing.BaseURL == "" && cfg.Ticketing.Instance != "" {
		cfg.Ticketing.BaseURL = "https://" + cfg.Ticketing.Instance
	}

	if tz := strings.TrimSpace(raw.BusinessHours.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			errs = append(errs, fmt.Errorf("business_hours.timezone: %w", err))
		} else {
			cfg.BusinessHours.Location = loc
		}
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// validate checks the settings the pipeline cannot run without.
func (c *Config) validate() []error {
	var errs []error
	required := []struct {
		field string
		value string
	}{
		{"intake.source_dir", c.Intake.SourceDir},
		{"intake.mirror_dir", c.Intake.MirrorDir},
		{"intake.search_term", c.Intake.SearchTerm},
		{"email.smtp_server", c.Email.Server},
		{"email.from_domain", c.Email.FromDomain},
		{"ticketing.instance", firstNonEmpty(c.Ticketing.Instance, c.Ticketing.BaseURL)},
		{"ticketing.table", c.Ticketing.Table},
		{"exclusions.computer_names_path", c.Exclusions.ComputerNamesPath},
		{"exclusions.user_codes_path", c.Exclusions.UserCodesPath},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.field))
		}
	}

	if len(c.Email.Recipients) == 0 {
		errs = append(errs, fmt.Errorf("email.recipients must list at least one address"))
	}

	if c.Ticketing.OAuth.TokenURL == "" && c.Ticketing.Username == "" {
		errs = append(errs, fmt.Errorf("ticketing.username or ticketing.oauth.token_url is required"))
	}

	start, startErr := time.Parse(TimeOfDayLayout, c.BusinessHours.Start)
	if startErr != nil {
		errs = append(errs, fmt.Errorf("business_hours.start: expected HH:MM:SS, got %q", c.BusinessHours.Start))
	}
	end, endErr := time.Parse(TimeOfDayLayout, c.BusinessHours.End)
	if endErr != nil {
		errs = append(errs, fmt.Errorf("business_hours.end: expected HH:MM:SS, got %q", c.BusinessHours.End))
	}
	if startErr == nil && endErr == nil && start.After(end) {
		errs = append(errs, fmt.Errorf("business_hours.start %s is after end %s", c.BusinessHours.Start, c.BusinessHours.End))
	}

	return errs
}

// OAuthEnabled reports whether the ticketing client should use client credentials.
func (t TicketingConfig) OAuthEnabled() bool {
	return t.OAuth.TokenURL != ""
}

func cleanList(values []string) []string {
	var out []string
	for _, v := range values {
		// A single YAML string may still carry the legacy comma-separated form.
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
