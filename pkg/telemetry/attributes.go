// Copyright 2026 © The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration with rich attributes
// for error-engine observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for Vigil telemetry.
// These follow OpenTelemetry naming conventions where applicable.
const (
	// Error record attributes
	AttrErrorID          = "vigil.error.id"
	AttrErrorFingerprint = "vigil.error.fingerprint"
	AttrErrorSeverity    = "vigil.error.severity"
	AttrErrorCategory    = "vigil.error.category"
	AttrErrorOccurrences = "vigil.error.occurrences"
	AttrErrorResolved    = "vigil.error.resolved"

	// Source attributes
	AttrSourceService = "vigil.source.service"
	AttrSourceMethod  = "vigil.source.method"
	AttrSourceFile    = "vigil.source.file"

	// Alert attributes
	AttrAlertChannel   = "vigil.alert.channel"
	AttrAlertDelivered = "vigil.alert.delivered"

	// Cleanup attributes
	AttrCleanupRemoved      = "vigil.cleanup.removed"
	AttrCleanupAutoResolved = "vigil.cleanup.auto_resolved"
	AttrCleanupCutoff       = "vigil.cleanup.cutoff"

	// Store attributes
	AttrStoreBackend  = "vigil.store.backend"
	AttrStoreFallback = "vigil.store.fallback"
)

// ErrorAttributes returns common attributes for error record spans.
func ErrorAttributes(id, fingerprint, severity, category string, occurrences int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrErrorID, id),
		attribute.String(AttrErrorSeverity, severity),
		attribute.String(AttrErrorCategory, category),
	}
	if fingerprint != "" {
		attrs = append(attrs, attribute.String(AttrErrorFingerprint, fingerprint))
	}
	if occurrences > 0 {
		attrs = append(attrs, attribute.Int(AttrErrorOccurrences, occurrences))
	}
	return attrs
}

// SourceAttributes returns attributes describing where an error originated.
func SourceAttributes(service, method, file string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrSourceService, service),
	}
	if method != "" {
		attrs = append(attrs, attribute.String(AttrSourceMethod, method))
	}
	if file != "" {
		attrs = append(attrs, attribute.String(AttrSourceFile, file))
	}
	return attrs
}

// AlertAttributes returns attributes for alert dispatch spans.
func AlertAttributes(channel string, delivered bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Bool(AttrAlertDelivered, delivered),
	}
	if channel != "" {
		attrs = append(attrs, attribute.String(AttrAlertChannel, channel))
	}
	return attrs
}

// CleanupAttributes returns attributes for a retention cleanup pass.
func CleanupAttributes(removed, autoResolved int, cutoff string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrCleanupRemoved, removed),
		attribute.Int(AttrCleanupAutoResolved, autoResolved),
	}
	if cutoff != "" {
		attrs = append(attrs, attribute.String(AttrCleanupCutoff, cutoff))
	}
	return attrs
}

// StoreAttributes returns attributes for store operations.
func StoreAttributes(backend string, fallback bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrStoreBackend, backend),
		attribute.Bool(AttrStoreFallback, fallback),
	}
}
