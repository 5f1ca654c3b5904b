// SPDX-License-Identifier: Apache-2.0
package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jllopis/vigil/pkg/report"
	"github.com/jllopis/vigil/pkg/resilience"
)

func testRecord(id, service string, sev report.Severity, cat report.Category, ts time.Time) *report.ErrorRecord {
	return &report.ErrorRecord{
		ID:              id,
		Timestamp:       ts,
		Severity:        sev,
		Category:        cat,
		Source:          report.Source{Service: service, Method: "send"},
		Context:         report.Context{RequestID: "req-" + id},
		Message:         "boom from " + service,
		OccurrenceCount: 1,
		FirstSeen:       ts,
		LastSeen:        ts,
		Tags:            []string{},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := testRecord("abc123", "ticketing", report.SeverityHigh, report.CategoryAuth, now)
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got := s.Get(ctx, "abc123")
	if got == nil {
		t.Fatal("expected record")
	}
	if got.Source.Service != "ticketing" || got.Severity != report.SeverityHigh {
		t.Fatalf("round trip mangled record: %+v", got)
	}

	if s.Get(ctx, "missing") != nil {
		t.Fatal("expected nil for unknown id")
	}
}

func TestIndexConsistency(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := testRecord("idx1", "chat", report.SeverityCritical, report.CategoryNetwork, now)
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	byDim := map[string]report.Filter{
		"severity": {Severities: []report.Severity{report.SeverityCritical}},
		"category": {Categories: []report.Category{report.CategoryNetwork}},
		"service":  {Services: []string{"chat"}},
	}
	for dim, f := range byDim {
		got := s.Query(ctx, f)
		if len(got) != 1 || got[0].ID != "idx1" {
			t.Fatalf("%s index lookup failed: %v", dim, got)
		}
	}

	if !s.Delete(ctx, "idx1") {
		t.Fatal("delete returned false")
	}
	for dim, f := range byDim {
		if got := s.Query(ctx, f); len(got) != 0 {
			t.Fatalf("%s index still resolves after delete: %v", dim, got)
		}
	}
	if s.Delete(ctx, "idx1") {
		t.Fatal("deleting a missing record must return false")
	}
}

func TestQueryIntersectionAndUnion(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = s.Put(ctx, testRecord("a", "svc-a", report.SeverityHigh, report.CategoryAuth, now))
	_ = s.Put(ctx, testRecord("b", "svc-a", report.SeverityLow, report.CategoryValidation, now.Add(time.Second)))
	_ = s.Put(ctx, testRecord("c", "svc-b", report.SeverityHigh, report.CategoryAuth, now.Add(2*time.Second)))

	// OR within a dimension.
	got := s.Query(ctx, report.Filter{Services: []string{"svc-a", "svc-b"}})
	if len(got) != 3 {
		t.Fatalf("expected union of 3, got %d", len(got))
	}

	// AND across dimensions.
	got = s.Query(ctx, report.Filter{
		Services:   []string{"svc-a"},
		Severities: []report.Severity{report.SeverityHigh},
	})
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected intersection {a}, got %v", got)
	}
}

func TestQueryNewestFirstAndPagination(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("r%d", i)
		_ = s.Put(ctx, testRecord(id, "svc", report.SeverityMedium, report.CategoryAPI, base.Add(time.Duration(i)*time.Minute)))
	}

	got := s.Query(ctx, report.Filter{Services: []string{"svc"}, Limit: 2})
	if len(got) != 2 || got[0].ID != "r4" || got[1].ID != "r3" {
		t.Fatalf("expected newest-first page [r4 r3], got %v", ids(got))
	}

	got = s.Query(ctx, report.Filter{Services: []string{"svc"}, Limit: 2, Offset: 2})
	if len(got) != 2 || got[0].ID != "r2" || got[1].ID != "r1" {
		t.Fatalf("expected page [r2 r1], got %v", ids(got))
	}

	if got = s.Query(ctx, report.Filter{Services: []string{"svc"}, Offset: 99}); len(got) != 0 {
		t.Fatalf("offset past end must return empty, got %v", ids(got))
	}
}

func TestQueryPostFilters(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := testRecord("pf", "svc", report.SeverityMedium, report.CategoryAPI, now)
	rec.Source.UserID = "U1"
	rec.Tags = []string{"error-reporting-failure"}
	rec.Message = "Upstream exploded badly"
	_ = s.Put(ctx, rec)

	resolved := true
	if got := s.Query(ctx, report.Filter{Resolved: &resolved}); len(got) != 0 {
		t.Fatal("resolved filter should exclude unresolved record")
	}
	if got := s.Query(ctx, report.Filter{UserID: "U2"}); len(got) != 0 {
		t.Fatal("userId filter should exclude record")
	}
	if got := s.Query(ctx, report.Filter{Search: "EXPLODED"}); len(got) != 1 {
		t.Fatal("search must be case-insensitive over message")
	}
	if got := s.Query(ctx, report.Filter{Tags: []string{"error-reporting-failure"}}); len(got) != 1 {
		t.Fatal("tag filter should match")
	}
	if got := s.Query(ctx, report.Filter{Range: report.TimeRange{To: now.Add(-time.Hour)}}); len(got) != 0 {
		t.Fatal("range filter should exclude record")
	}
}

// failingKV simulates a durable backend that is down.
type failingKV struct{}

func (failingKV) Set(context.Context, string, []byte) error { return stderrors.New("backend down") }
func (failingKV) Get(context.Context, string) ([]byte, error) {
	return nil, stderrors.New("backend down")
}
func (failingKV) Delete(context.Context, string) error { return stderrors.New("backend down") }
func (failingKV) ScanPrefix(context.Context, string) ([]Entry, error) {
	return nil, stderrors.New("backend down")
}

func TestFallbackToMemoryWhenDurableFails(t *testing.T) {
	s := New(failingKV{}, WithRetry(resilience.DefaultRetryConfig().
		WithMaxAttempts(1).WithInitialDelay(time.Millisecond)))
	ctx := context.Background()
	now := time.Now().UTC()

	rec := testRecord("fb", "svc", report.SeverityHigh, report.CategoryAuth, now)
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("put must degrade, not fail: %v", err)
	}

	if got := s.Get(ctx, "fb"); got == nil {
		t.Fatal("record must be readable from the in-memory fallback")
	}
	if got := s.Query(ctx, report.Filter{Services: []string{"svc"}}); len(got) != 1 {
		t.Fatal("query must fall back to the in-memory scan")
	}
	if !s.Delete(ctx, "fb") {
		t.Fatal("delete must work against the fallback")
	}
}

func TestPurgeIndexesBefore(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	now := time.Now().UTC()

	old := testRecord("old", "svc", report.SeverityLow, report.CategoryAPI, now.Add(-72*time.Hour))
	fresh := testRecord("new", "svc", report.SeverityLow, report.CategoryAPI, now)
	_ = s.Put(ctx, old)
	_ = s.Put(ctx, fresh)

	// Malformed index keys are deleted unconditionally.
	_ = s.cache.Set(ctx, "index:service:svc:not-a-timestamp:zzz", []byte("zzz"))

	removed := s.PurgeIndexesBefore(ctx, now.Add(-24*time.Hour))
	if removed != 5 { // 4 dims of "old" + 1 malformed
		t.Fatalf("expected 5 removed keys, got %d", removed)
	}

	if got := s.Query(ctx, report.Filter{Services: []string{"svc"}}); len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("expected only fresh record via index, got %v", ids(got))
	}
}

func TestCorruptRecordPurgedOnScan(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	_ = s.cache.Set(ctx, recordKey("bad"), []byte("{not json"))
	_ = s.Put(ctx, testRecord("good", "svc", report.SeverityMedium, report.CategoryAPI, time.Now().UTC()))

	recs := s.Records(ctx)
	if len(recs) != 1 || recs[0].ID != "good" {
		t.Fatalf("expected corrupt entry skipped, got %v", ids(recs))
	}
	if _, err := s.cache.Get(ctx, recordKey("bad")); err == nil {
		t.Fatal("corrupt entry must be deleted, not retried")
	}
}

func TestDailyStatsBump(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := testRecord("ds", "svc", report.SeverityCritical, report.CategoryNetwork, now)
	s.BumpDaily(ctx, rec)
	s.BumpDaily(ctx, rec)

	stats := s.DailyStats(ctx, now.Format("2006-01-02"))
	if stats == nil {
		t.Fatal("expected daily bucket")
	}
	if stats.TotalErrors != 2 {
		t.Fatalf("expected 2 total, got %d", stats.TotalErrors)
	}
	if stats.BySeverity["critical"] != 2 || stats.ByCategory["network"] != 2 || stats.ByService["svc"] != 2 {
		t.Fatalf("breakdowns wrong: %+v", stats)
	}

	if s.DailyStats(ctx, "1999-01-01") != nil {
		t.Fatal("expected nil for absent date")
	}
}

func TestDailyCounts(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	rec := testRecord("dc1", "chat", report.SeverityHigh, report.CategoryAuth, day1)
	s.BumpDaily(ctx, rec)
	s.BumpDaily(ctx, rec)
	rec.LastSeen = day2
	s.BumpDaily(ctx, rec)

	counts := s.DailyCounts(ctx)
	if len(counts) != 2 {
		t.Fatalf("expected 2 bucket dates, got %v", counts)
	}
	if counts["2026-08-01"] != 2 || counts["2026-08-02"] != 1 {
		t.Fatalf("bucket totals wrong: %v", counts)
	}
}

func TestSQLiteKVRoundTrip(t *testing.T) {
	kv, err := OpenSQLiteKV(filepath.Join(t.TempDir(), "vigil.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer kv.Close()
	ctx := context.Background()

	if err := kv.Set(ctx, "error:1", []byte("one")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := kv.Set(ctx, "error:2", []byte("two")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := kv.Set(ctx, "index:service:svc:x", []byte("1")); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := kv.Get(ctx, "error:1")
	if err != nil || string(got) != "one" {
		t.Fatalf("get: %q %v", got, err)
	}

	entries, err := kv.ScanPrefix(ctx, "error:")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(entries) != 2 || entries[0].Key != "error:1" {
		t.Fatalf("scan wrong: %+v", entries)
	}

	if err := kv.Delete(ctx, "error:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := kv.Get(ctx, "error:1"); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestPrefixEnd(t *testing.T) {
	if prefixEnd("abc") != "abd" {
		t.Fatalf("unexpected: %q", prefixEnd("abc"))
	}
	if prefixEnd("a\xff") != "b" {
		t.Fatalf("unexpected: %q", prefixEnd("a\xff"))
	}
	if prefixEnd("\xff") != "" {
		t.Fatal("all-0xff prefix has no upper bound")
	}
}

func ids(recs []*report.ErrorRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
