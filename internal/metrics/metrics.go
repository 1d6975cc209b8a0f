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

// Package metrics exposes Prometheus collectors for the intake pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// ResultSuccess labels a step that completed.
	ResultSuccess = "success"
	// ResultError labels a step that failed.
	ResultError = "error"
	// ResultSkipped labels a step that was not attempted.
	ResultSkipped = "skipped"
)

var (
	archivesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "error_intake",
			Name:      "archives_total",
			Help:      "Archives processed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	ticketRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "error_intake",
			Name:      "ticket_requests_total",
			Help:      "Incident creation calls, partitioned by result.",
		},
		[]string{"result"},
	)

	attachmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "error_intake",
			Name:      "attachments_total",
			Help:      "Attachment uploads, partitioned by result.",
		},
		[]string{"result"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "error_intake",
			Name:      "notifications_total",
			Help:      "Outcome emails, partitioned by result.",
		},
		[]string{"result"},
	)

	processingSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "error_intake",
			Name:      "archive_processing_seconds",
			Help:      "Time from mirror to notification per archive.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	lastScanTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "error_intake",
			Name:      "last_scan_timestamp_seconds",
			Help:      "Unix time of the last completed scan pass.",
		},
	)
)

// Collectors returns every collector owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		archivesTotal,
		ticketRequestsTotal,
		attachmentsTotal,
		notificationsTotal,
		processingSeconds,
		lastScanTimestamp,
	}
}

// Register attaches the intake collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	for _, collector := range Collectors() {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveArchive records one archive's outcome and processing time.
func ObserveArchive(outcome string, duration time.Duration) {
	archivesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	processingSeconds.Observe(duration.Seconds())
}

// ObserveTicket records an incident creation result.
func ObserveTicket(result string) {
	ticketRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveAttachment records an attachment upload result.
func ObserveAttachment(result string) {
	attachmentsTotal.WithLabelValues(result).Inc()
}

// ObserveNotification records an email delivery result.
func ObserveNotification(result string) {
	notificationsTotal.WithLabelValues(result).Inc()
}

// MarkScan records the completion time of a scan pass.
func MarkScan(at time.Time) {
	lastScanTimestamp.Set(float64(at.Unix()))
}

// Result maps an error to a success/error label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
