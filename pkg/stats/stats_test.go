// SPDX-License-Identifier: Apache-2.0
package stats

import (
	"context"
	"testing"
	"time"

	"github.com/jllopis/vigil/pkg/report"
)

type sliceSource []*report.ErrorRecord

func (s sliceSource) Records(context.Context) []*report.ErrorRecord { return s }

func rec(id string, svc string, sev report.Severity, cat report.Category, code string, count int, ts time.Time) *report.ErrorRecord {
	return &report.ErrorRecord{
		ID:              id,
		Timestamp:       ts,
		Severity:        sev,
		Category:        cat,
		Code:            code,
		Source:          report.Source{Service: svc, Method: "m"},
		Message:         "msg " + id,
		OccurrenceCount: count,
		FirstSeen:       ts,
		LastSeen:        ts,
	}
}

func TestStatisticsAggregation(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	src := sliceSource{
		rec("a", "svc-a", report.SeverityHigh, report.CategoryAuth, "UNAUTHORIZED", 3, now),
		rec("b", "svc-a", report.SeverityLow, report.CategoryValidation, "INVALID_INPUT", 2, now.Add(10*time.Minute)),
		rec("c", "svc-b", report.SeverityCritical, report.CategoryNetwork, "NETWORK_ERROR", 5, now.Add(time.Hour)),
	}
	a := NewAnalyzer(src, nil)

	s := a.Statistics(context.Background(), report.TimeRange{})
	if s.TotalErrors != 10 {
		t.Fatalf("expected occurrence-weighted total 10, got %d", s.TotalErrors)
	}
	if s.BySeverity["high"] != 3 || s.ByCategory["network"] != 5 || s.ByService["svc-a"] != 5 {
		t.Fatalf("breakdowns wrong: %+v", s)
	}
	if len(s.TopErrors) != 3 || s.TopErrors[0].ID != "c" {
		t.Fatalf("top errors wrong: %+v", s.TopErrors)
	}

	if len(s.Trends) != 2 {
		t.Fatalf("expected 2 hourly buckets, got %d", len(s.Trends))
	}
	first := s.Trends[0]
	if first.Count != 5 || first.MaxSeverity != report.SeverityHigh {
		t.Fatalf("hour bucket wrong: %+v", first)
	}
}

func TestStatisticsRangeFilter(t *testing.T) {
	now := time.Now().UTC()
	src := sliceSource{
		rec("in", "svc", report.SeverityMedium, report.CategoryAPI, "API_ERROR", 1, now),
		rec("out", "svc", report.SeverityMedium, report.CategoryAPI, "API_ERROR", 1, now.Add(-48*time.Hour)),
	}
	a := NewAnalyzer(src, nil)

	s := a.Statistics(context.Background(), report.TimeRange{From: now.Add(-time.Hour)})
	if s.TotalErrors != 1 {
		t.Fatalf("range filter leaked records: %d", s.TotalErrors)
	}
}

func TestRealTimeMetricsDelta(t *testing.T) {
	now := time.Now().UTC()
	src := sliceSource{
		rec("c1", "svc", report.SeverityCritical, report.CategoryNetwork, "NETWORK_ERROR", 1, now.Add(-10*time.Minute)),
		rec("c2", "svc", report.SeverityMedium, report.CategoryAPI, "API_ERROR", 1, now.Add(-20*time.Minute)),
		rec("c3", "svc", report.SeverityMedium, report.CategoryAPI, "API_ERROR", 1, now.Add(-30*time.Minute)),
		rec("p1", "svc", report.SeverityMedium, report.CategoryAPI, "API_ERROR", 1, now.Add(-90*time.Minute)),
		rec("p2", "svc", report.SeverityMedium, report.CategoryAPI, "API_ERROR", 1, now.Add(-100*time.Minute)),
	}
	src[0].Resolved = false
	a := NewAnalyzer(src, nil)

	m := a.RealTimeMetrics(context.Background(), now)
	if m.CurrentWindow != 3 || m.PreviousWindow != 2 {
		t.Fatalf("window counts wrong: %+v", m)
	}
	if m.ErrorRateChange != 50 {
		t.Fatalf("expected +50%%, got %v", m.ErrorRateChange)
	}
	if m.ActiveErrors != 3 {
		t.Fatalf("expected 3 active, got %d", m.ActiveErrors)
	}
	if m.CriticalErrors != 1 {
		t.Fatalf("expected 1 critical, got %d", m.CriticalErrors)
	}
}

func TestRealTimeMetricsEdgeCases(t *testing.T) {
	now := time.Now().UTC()
	a := NewAnalyzer(sliceSource{}, nil)
	if m := a.RealTimeMetrics(context.Background(), now); m.ErrorRateChange != 0 {
		t.Fatalf("both windows empty must be 0%%, got %v", m.ErrorRateChange)
	}

	a = NewAnalyzer(sliceSource{
		rec("x", "svc", report.SeverityLow, report.CategoryAPI, "API_ERROR", 1, now.Add(-5*time.Minute)),
	}, nil)
	if m := a.RealTimeMetrics(context.Background(), now); m.ErrorRateChange != 100 {
		t.Fatalf("previous 0, current >0 must be +100%%, got %v", m.ErrorRateChange)
	}
}

func TestForecastFloor(t *testing.T) {
	now := time.Now().UTC()
	a := NewAnalyzer(sliceSource{
		rec("only", "svc", report.SeverityMedium, report.CategoryAPI, "API_ERROR", 7, now),
	}, nil)

	f := a.Forecast(context.Background(), 3)
	if f == nil {
		t.Fatal("forecast must never be nil")
	}
	if len(f.Points) != 0 {
		t.Fatalf("fewer than 2 distinct days must yield an empty forecast, got %d points", len(f.Points))
	}
}

func TestForecastLinearGrowth(t *testing.T) {
	day := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	var src sliceSource
	// Perfectly linear: 10, 20, 30, 40 occurrences per day.
	for i := 0; i < 4; i++ {
		src = append(src, rec(
			time.Duration(i).String(), "svc", report.SeverityMedium, report.CategoryAPI, "API_ERROR",
			(i+1)*10, day.Add(time.Duration(i)*24*time.Hour)))
	}
	a := NewAnalyzer(src, nil)

	f := a.Forecast(context.Background(), 2)
	if len(f.Points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(f.Points))
	}
	if f.Points[0].PredictedCount != 50 || f.Points[1].PredictedCount != 60 {
		t.Fatalf("expected 50,60 continuation, got %d,%d",
			f.Points[0].PredictedCount, f.Points[1].PredictedCount)
	}
	if f.Points[0].Confidence < 99.9 {
		t.Fatalf("perfect fit should have ~100 confidence, got %v", f.Points[0].Confidence)
	}
	if len(f.Recommendations) == 0 {
		t.Fatal("expected recommendations")
	}
}

type bucketedSource struct {
	recs   sliceSource
	counts map[string]int
}

func (b bucketedSource) Records(ctx context.Context) []*report.ErrorRecord { return b.recs }
func (b bucketedSource) DailyCounts(context.Context) map[string]int        { return b.counts }

func TestForecastDeduplicatedHistory(t *testing.T) {
	// One deduplicated record: its timestamp moved to the latest
	// occurrence, but the daily buckets retain the five-day history.
	// The forecast must come from the buckets, not the record timestamp.
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	src := bucketedSource{
		recs: sliceSource{
			rec("only", "svc", report.SeverityMedium, report.CategoryAPI, "API_ERROR", 5, now),
		},
		counts: map[string]int{
			"2026-08-24": 1,
			"2026-08-25": 1,
			"2026-08-26": 1,
			"2026-08-27": 1,
			"2026-08-28": 1,
			"not-a-date": 99, // malformed bucket keys are skipped
		},
	}
	a := NewAnalyzer(src, nil)

	f := a.Forecast(context.Background(), 2)
	if len(f.Points) != 2 {
		t.Fatalf("bucketed history must forecast, got %d points", len(f.Points))
	}
	for _, p := range f.Points {
		if p.PredictedCount != 1 {
			t.Fatalf("flat daily volume of 1 must predict 1, got %+v", p)
		}
	}
}

func TestForecastNeverNegative(t *testing.T) {
	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	src := sliceSource{
		rec("a", "svc", report.SeverityMedium, report.CategoryAPI, "API_ERROR", 100, day),
		rec("b", "svc", report.SeverityMedium, report.CategoryAPI, "API_ERROR", 10, day.Add(24*time.Hour)),
	}
	a := NewAnalyzer(src, nil)

	f := a.Forecast(context.Background(), 5)
	for _, p := range f.Points {
		if p.PredictedCount < 0 {
			t.Fatalf("negative prediction: %+v", p)
		}
	}
}

func TestPatternTrendClassification(t *testing.T) {
	now := time.Now().UTC()

	mk := func(code string, first, last time.Time) *report.ErrorRecord {
		r := rec(code, "svc", report.SeverityMedium, report.CategoryAPI, code, 2, last)
		r.FirstSeen = first
		r.LastSeen = last
		return r
	}

	// Window is now-10h .. now, midpoint now-5h.
	window := report.TimeRange{From: now.Add(-10 * time.Hour), To: now}
	src := sliceSource{
		// Occurrences concentrated in the later half of the window.
		mk("INCREASING", now.Add(-time.Hour), now.Add(-time.Minute)),
		// Occurrences concentrated in the earlier half.
		mk("DECREASING", now.Add(-10*time.Hour), now.Add(-9*time.Hour)),
		// Occurrences centered on the midpoint.
		mk("STABLE", now.Add(-6*time.Hour), now.Add(-4*time.Hour)),
	}
	a := NewAnalyzer(src, nil)

	patterns := a.Patterns(context.Background(), window)
	byCode := map[string]Pattern{}
	for _, p := range patterns {
		byCode[p.Code] = p
	}
	if byCode["INCREASING"].Trend != "increasing" {
		t.Fatalf("expected increasing, got %q", byCode["INCREASING"].Trend)
	}
	if byCode["DECREASING"].Trend != "decreasing" {
		t.Fatalf("expected decreasing, got %q", byCode["DECREASING"].Trend)
	}
	if byCode["STABLE"].Trend != "stable" {
		t.Fatalf("expected stable, got %q", byCode["STABLE"].Trend)
	}
}

func TestPatternsTopN(t *testing.T) {
	now := time.Now().UTC()
	var src sliceSource
	for i := 0; i < 25; i++ {
		src = append(src, rec(
			string(rune('a'+i)), "svc", report.SeverityMedium, report.CategoryAPI,
			"CODE_"+string(rune('a'+i)), i+1, now))
	}
	a := NewAnalyzer(src, nil)

	patterns := a.Patterns(context.Background(), report.TimeRange{})
	if len(patterns) != 20 {
		t.Fatalf("expected top 20, got %d", len(patterns))
	}
	if patterns[0].Count != 25 {
		t.Fatalf("expected highest count first, got %d", patterns[0].Count)
	}
}

func TestServiceHealthBands(t *testing.T) {
	now := time.Now().UTC()
	src := sliceSource{
		rec("h", "healthy-svc", report.SeverityLow, report.CategoryAPI, "API_ERROR", 1, now),
		rec("w", "warning-svc", report.SeverityLow, report.CategoryAPI, "API_ERROR", 2, now),
		rec("c", "critical-svc", report.SeverityLow, report.CategoryAPI, "API_ERROR", 10, now),
	}
	volume := func(service string) float64 {
		switch service {
		case "healthy-svc":
			return 1000 // 0.1% error rate
		case "warning-svc":
			return 100 // 2% error rate
		default:
			return 50 // 20% error rate
		}
	}
	a := NewAnalyzer(src, volume)

	health := a.ServiceHealth(context.Background(), report.TimeRange{})
	byService := map[string]ServiceHealth{}
	for _, h := range health {
		byService[h.Service] = h
	}
	if byService["healthy-svc"].Status != "healthy" {
		t.Fatalf("expected healthy, got %+v", byService["healthy-svc"])
	}
	if byService["warning-svc"].Status != "warning" {
		t.Fatalf("expected warning, got %+v", byService["warning-svc"])
	}
	if byService["critical-svc"].Status != "critical" {
		t.Fatalf("expected critical, got %+v", byService["critical-svc"])
	}
}

func TestResolutionMetrics(t *testing.T) {
	now := time.Now().UTC()
	resolved := rec("r", "svc", report.SeverityMedium, report.CategoryAPI, "API_ERROR", 1, now.Add(-time.Hour))
	resolved.Resolved = true
	resolved.Resolution = &report.Resolution{Method: "auto", ResolvedAt: now}
	open := rec("o", "svc", report.SeverityMedium, report.CategoryAPI, "API_ERROR", 1, now)

	a := NewAnalyzer(sliceSource{resolved, open}, nil)
	m := a.ResolutionMetrics(context.Background(), report.TimeRange{})
	if m.Resolved != 1 || m.Unresolved != 1 || m.AutoResolved != 1 {
		t.Fatalf("counts wrong: %+v", m)
	}
	if m.AvgResolutionMins < 59 || m.AvgResolutionMins > 61 {
		t.Fatalf("expected ~60min resolution time, got %v", m.AvgResolutionMins)
	}
}
