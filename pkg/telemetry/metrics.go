// SPDX-License-Identifier: Apache-2.0
// Package telemetry provides observability for the Vigil error engine.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/vigil/pkg/report"
)

// EngineMetrics tracks ingestion, deduplication, alerting and retention
// activity for production monitoring.
type EngineMetrics struct {
	// reportCounter tracks reports ingested by severity and category
	reportCounter metric.Int64Counter

	// dedupCounter tracks reports folded into an existing record
	dedupCounter metric.Int64Counter

	// alertSentCounter tracks alerts delivered to at least one channel
	alertSentCounter metric.Int64Counter

	// alertSuppressedCounter tracks alerts dropped by the rate limiter
	alertSuppressedCounter metric.Int64Counter

	// cleanupCounter tracks records removed by retention cleanup
	cleanupCounter metric.Int64Counter

	// activeErrorsGauge tracks unresolved record count
	activeErrorsGauge metric.Int64Gauge
}

// NewEngineMetrics creates a new engine metrics tracker with OTEL meters.
func NewEngineMetrics(ctx context.Context) (*EngineMetrics, error) {
	meter := otel.Meter("vigil/engine")

	reportCounter, err := meter.Int64Counter(
		"vigil.reports.ingested",
		metric.WithDescription("Error reports ingested by severity and category"),
	)
	if err != nil {
		return nil, err
	}

	dedupCounter, err := meter.Int64Counter(
		"vigil.reports.deduplicated",
		metric.WithDescription("Reports folded into an existing record by fingerprint"),
	)
	if err != nil {
		return nil, err
	}

	alertSentCounter, err := meter.Int64Counter(
		"vigil.alerts.sent",
		metric.WithDescription("Alerts delivered to at least one channel"),
	)
	if err != nil {
		return nil, err
	}

	alertSuppressedCounter, err := meter.Int64Counter(
		"vigil.alerts.suppressed",
		metric.WithDescription("Alerts dropped by the rate-limit window"),
	)
	if err != nil {
		return nil, err
	}

	cleanupCounter, err := meter.Int64Counter(
		"vigil.cleanup.removed",
		metric.WithDescription("Records removed by retention cleanup"),
	)
	if err != nil {
		return nil, err
	}

	activeErrorsGauge, err := meter.Int64Gauge(
		"vigil.errors.active",
		metric.WithDescription("Unresolved error records currently stored"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		reportCounter:          reportCounter,
		dedupCounter:           dedupCounter,
		alertSentCounter:       alertSentCounter,
		alertSuppressedCounter: alertSuppressedCounter,
		cleanupCounter:         cleanupCounter,
		activeErrorsGauge:      activeErrorsGauge,
	}, nil
}

// RecordReport increments the ingestion counter for the given record.
func (em *EngineMetrics) RecordReport(ctx context.Context, rec *report.ErrorRecord) {
	if em == nil || rec == nil {
		return
	}
	em.reportCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("severity", rec.Severity.String()),
			attribute.String("category", string(rec.Category)),
			attribute.String("service", rec.Source.Service),
		),
	)
}

// RecordDedup increments the deduplication counter. Called when a report
// matches an existing fingerprint instead of creating a new record.
func (em *EngineMetrics) RecordDedup(ctx context.Context, fingerprint string) {
	if em == nil {
		return
	}
	em.dedupCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("fingerprint", fingerprint),
		),
	)
}

// RecordAlert tracks the outcome of an alert dispatch.
func (em *EngineMetrics) RecordAlert(ctx context.Context, rec *report.ErrorRecord, delivered bool) {
	if em == nil || rec == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("severity", rec.Severity.String()),
		attribute.String("category", string(rec.Category)),
	)
	if delivered {
		em.alertSentCounter.Add(ctx, 1, attrs)
	} else {
		em.alertSuppressedCounter.Add(ctx, 1, attrs)
	}
}

// RecordCleanup records the number of records removed in a cleanup pass.
func (em *EngineMetrics) RecordCleanup(ctx context.Context, removed int64) {
	if em == nil {
		return
	}
	em.cleanupCounter.Add(ctx, removed)
}

// RecordActiveErrors records the current unresolved record count.
func (em *EngineMetrics) RecordActiveErrors(ctx context.Context, count int64) {
	if em == nil {
		return
	}
	em.activeErrorsGauge.Record(ctx, count)
}
