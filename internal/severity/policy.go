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

// Package severity decides whether a run happens inside business hours and
// which (urgency, impact) pair its tickets carry.
package severity

import (
	"fmt"
	"time"

	"github.com/bcem/errorintake/internal/config"
	"github.com/bcem/errorintake/internal/models"
)

// TimeOfDay is an offset from midnight. Configured bounds have whole
// seconds; instants compared against them keep their fraction.
type TimeOfDay time.Duration

// ParseTimeOfDay parses an HH:MM:SS string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(config.TimeOfDayLayout, s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return clock(t), nil
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func clock(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond()))
}

// Policy maps a wall-clock instant to a severity assignment.
type Policy struct {
	Start    TimeOfDay
	End      TimeOfDay
	Location *time.Location

	AfterHours models.SeverityAssignment
	Business   models.SeverityAssignment
}

// NewPolicy builds a policy from the business-hours window and severity tokens.
func NewPolicy(hours config.BusinessHoursConfig, tokens config.SeverityConfig) (*Policy, error) {
	start, err := ParseTimeOfDay(hours.Start)
	if err != nil {
		return nil, err
	}
	end, err := ParseTimeOfDay(hours.End)
	if err != nil {
		return nil, err
	}
	loc := hours.Location
	if loc == nil {
		loc = time.Local
	}
	return &Policy{
		Start:    start,
		End:      end,
		Location: loc,
		AfterHours: models.SeverityAssignment{
			Urgency: tokens.AfterHoursUrgency,
			Impact:  tokens.AfterHoursImpact,
		},
		Business: models.SeverityAssignment{
			Urgency:       tokens.BusinessHoursUrgency,
			Impact:        tokens.BusinessHoursImpact,
			BusinessHours: true,
		},
	}, nil
}

// IsBusinessHours reports whether now falls inside the inclusive window on a
// Monday to Friday. There is no holiday calendar.
func (p *Policy) IsBusinessHours(now time.Time) bool {
	local := now.In(p.Location)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	tod := clock(local)
	return p.Start <= tod && tod <= p.End
}

// Assign returns the business or after-hours assignment for now.
func (p *Policy) Assign(now time.Time) models.SeverityAssignment {
	if p.IsBusinessHours(now) {
		return p.Business
	}
	return p.AfterHours
}
