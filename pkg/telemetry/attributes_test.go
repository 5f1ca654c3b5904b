// Copyright 2026 © The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes("rec1", "abc123", "high", "network", 4)

	expected := map[string]any{
		AttrErrorID:          "rec1",
		AttrErrorFingerprint: "abc123",
		AttrErrorSeverity:    "high",
		AttrErrorCategory:    "network",
		AttrErrorOccurrences: 4,
	}

	assertAttributes(t, attrs, expected)
}

func TestErrorAttributesOmitsEmpty(t *testing.T) {
	attrs := ErrorAttributes("rec1", "", "low", "unknown", 0)
	for _, a := range attrs {
		if string(a.Key) == AttrErrorFingerprint || string(a.Key) == AttrErrorOccurrences {
			t.Errorf("unexpected attribute %s", a.Key)
		}
	}
}

func TestSourceAttributes(t *testing.T) {
	attrs := SourceAttributes("svc-a", "call", "client.go")

	expected := map[string]any{
		AttrSourceService: "svc-a",
		AttrSourceMethod:  "call",
		AttrSourceFile:    "client.go",
	}

	assertAttributes(t, attrs, expected)
}

func TestAlertAttributes(t *testing.T) {
	attrs := AlertAttributes("ops", true)

	expected := map[string]any{
		AttrAlertChannel:   "ops",
		AttrAlertDelivered: true,
	}

	assertAttributes(t, attrs, expected)
}

func TestCleanupAttributes(t *testing.T) {
	attrs := CleanupAttributes(12, 3, "2026-07-29T00:00:00Z")

	expected := map[string]any{
		AttrCleanupRemoved:      12,
		AttrCleanupAutoResolved: 3,
		AttrCleanupCutoff:       "2026-07-29T00:00:00Z",
	}

	assertAttributes(t, attrs, expected)
}

func TestStoreAttributes(t *testing.T) {
	attrs := StoreAttributes("sqlite", true)

	expected := map[string]any{
		AttrStoreBackend:  "sqlite",
		AttrStoreFallback: true,
	}

	assertAttributes(t, attrs, expected)
}

func assertAttributes(t *testing.T, attrs []attribute.KeyValue, expected map[string]any) {
	t.Helper()

	found := make(map[string]attribute.KeyValue)
	for _, attr := range attrs {
		found[string(attr.Key)] = attr
	}

	for key, expectedVal := range expected {
		attr, ok := found[key]
		if !ok {
			t.Errorf("missing attribute %s", key)
			continue
		}

		var actualVal any
		switch attr.Value.Type() {
		case attribute.STRING:
			actualVal = attr.Value.AsString()
		case attribute.INT64:
			actualVal = int(attr.Value.AsInt64())
		case attribute.FLOAT64:
			actualVal = attr.Value.AsFloat64()
		case attribute.BOOL:
			actualVal = attr.Value.AsBool()
		}

		if actualVal != expectedVal {
			t.Errorf("attribute %s: got %v, want %v", key, actualVal, expectedVal)
		}
	}
}
