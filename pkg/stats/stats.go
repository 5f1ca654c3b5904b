// SPDX-License-Identifier: Apache-2.0
// Package stats computes rolling aggregates, pattern analysis, service
// health, and short-term forecasts over stored error records.
package stats

import (
	"context"
	"sort"
	"time"

	"github.com/jllopis/vigil/pkg/report"
)

// RecordSource supplies the raw records the analyzer works on.
type RecordSource interface {
	Records(ctx context.Context) []*report.ErrorRecord
}

// RequestVolumeProvider estimates the request volume for a service over the
// analysis window. The default derives volume from error count, which is a
// placeholder until a real traffic signal is wired in.
type RequestVolumeProvider func(service string) float64

// DefaultRequestVolume is the placeholder volume heuristic.
func DefaultRequestVolume(errorCount int) RequestVolumeProvider {
	return func(string) float64 {
		v := float64(errorCount) * 100
		if v < 1000 {
			v = 1000
		}
		return v
	}
}

// Analyzer computes statistics over a record source.
type Analyzer struct {
	source RecordSource
	volume RequestVolumeProvider
}

// NewAnalyzer creates an Analyzer. volume may be nil to use the placeholder
// heuristic.
func NewAnalyzer(source RecordSource, volume RequestVolumeProvider) *Analyzer {
	return &Analyzer{source: source, volume: volume}
}

// TrendBucket is one hourly trend slot.
type TrendBucket struct {
	Hour        time.Time       `json:"hour"`
	Count       int             `json:"count"`
	MaxSeverity report.Severity `json:"maxSeverity"`
}

// Statistics is the aggregate view over a time range.
type Statistics struct {
	TotalErrors int                   `json:"totalErrors"`
	BySeverity  map[string]int        `json:"bySeverity"`
	ByCategory  map[string]int        `json:"byCategory"`
	ByService   map[string]int        `json:"byService"`
	TopErrors   []*report.ErrorRecord `json:"topErrors"`
	Trends      []TrendBucket         `json:"trends"`
}

// Statistics aggregates records in the given range. Totals and breakdowns
// sum occurrence counts; top errors are the 10 highest-occurrence records;
// trends are hourly buckets carrying the maximum severity seen in the hour.
func (a *Analyzer) Statistics(ctx context.Context, tr report.TimeRange) *Statistics {
	out := &Statistics{
		BySeverity: map[string]int{},
		ByCategory: map[string]int{},
		ByService:  map[string]int{},
	}

	hours := map[time.Time]*TrendBucket{}
	var inRange []*report.ErrorRecord
	for _, rec := range a.source.Records(ctx) {
		if !tr.IsZero() && !tr.Contains(rec.Timestamp) {
			continue
		}
		inRange = append(inRange, rec)

		out.TotalErrors += rec.OccurrenceCount
		out.BySeverity[rec.Severity.String()] += rec.OccurrenceCount
		out.ByCategory[string(rec.Category)] += rec.OccurrenceCount
		out.ByService[rec.Source.Service] += rec.OccurrenceCount

		hour := rec.Timestamp.UTC().Truncate(time.Hour)
		bucket, ok := hours[hour]
		if !ok {
			bucket = &TrendBucket{Hour: hour}
			hours[hour] = bucket
		}
		bucket.Count += rec.OccurrenceCount
		if rec.Severity > bucket.MaxSeverity {
			bucket.MaxSeverity = rec.Severity
		}
	}

	sort.Slice(inRange, func(i, j int) bool {
		return inRange[i].OccurrenceCount > inRange[j].OccurrenceCount
	})
	if len(inRange) > 10 {
		inRange = inRange[:10]
	}
	out.TopErrors = inRange

	for _, bucket := range hours {
		out.Trends = append(out.Trends, *bucket)
	}
	sort.Slice(out.Trends, func(i, j int) bool {
		return out.Trends[i].Hour.Before(out.Trends[j].Hour)
	})
	return out
}

// RealTimeMetrics compares the trailing hour against the hour before it.
type RealTimeMetrics struct {
	ErrorRateChange float64 `json:"errorRateChange"`
	ActiveErrors    int     `json:"activeErrors"`
	CriticalErrors  int     `json:"criticalErrors"`
	CurrentWindow   int     `json:"currentWindow"`
	PreviousWindow  int     `json:"previousWindow"`
}

// RealTimeMetrics computes the trailing-hour snapshot at now. A window's
// membership is decided by a record's last occurrence.
func (a *Analyzer) RealTimeMetrics(ctx context.Context, now time.Time) *RealTimeMetrics {
	out := &RealTimeMetrics{}
	current := report.TimeRange{From: now.Add(-time.Hour), To: now}
	previous := report.TimeRange{From: now.Add(-2 * time.Hour), To: now.Add(-time.Hour)}

	for _, rec := range a.source.Records(ctx) {
		switch {
		case current.Contains(rec.LastSeen):
			out.CurrentWindow++
			if !rec.Resolved {
				out.ActiveErrors++
			}
			if rec.Severity == report.SeverityCritical {
				out.CriticalErrors++
			}
		case previous.Contains(rec.LastSeen):
			out.PreviousWindow++
		}
	}

	switch {
	case out.PreviousWindow == 0 && out.CurrentWindow > 0:
		out.ErrorRateChange = 100
	case out.PreviousWindow == 0:
		out.ErrorRateChange = 0
	default:
		out.ErrorRateChange = float64(out.CurrentWindow-out.PreviousWindow) /
			float64(out.PreviousWindow) * 100
	}
	return out
}

// Pattern is a recurring (code, category) error group.
type Pattern struct {
	Code        string          `json:"code"`
	Category    report.Category `json:"category"`
	Count       int             `json:"count"`
	MaxSeverity report.Severity `json:"maxSeverity"`
	Trend       string          `json:"trend"` // increasing, decreasing, stable
}

// Patterns groups records by (code, category) and classifies each group's
// trend by where its occurrence mass sits inside the analysis window:
// concentrated in the later half means increasing, in the earlier half
// decreasing, otherwise stable. Occurrence times are approximated by each
// record's first and last seen. Returns the top 20 groups by occurrence
// count.
func (a *Analyzer) Patterns(ctx context.Context, tr report.TimeRange) []Pattern {
	type group struct {
		pattern Pattern
		samples []time.Time
	}
	groups := map[string]*group{}
	window := tr

	for _, rec := range a.source.Records(ctx) {
		if !tr.IsZero() && !tr.Contains(rec.Timestamp) {
			continue
		}
		key := rec.Code + "|" + string(rec.Category)
		g, ok := groups[key]
		if !ok {
			g = &group{pattern: Pattern{Code: rec.Code, Category: rec.Category}}
			groups[key] = g
		}
		g.pattern.Count += rec.OccurrenceCount
		if rec.Severity > g.pattern.MaxSeverity {
			g.pattern.MaxSeverity = rec.Severity
		}
		g.samples = append(g.samples, rec.FirstSeen, rec.LastSeen)

		// An unbounded window spans the observed samples.
		if window.From.IsZero() || rec.FirstSeen.Before(window.From) {
			window.From = rec.FirstSeen
		}
		if window.To.IsZero() || rec.LastSeen.After(window.To) {
			window.To = rec.LastSeen
		}
	}

	out := make([]Pattern, 0, len(groups))
	for _, g := range groups {
		g.pattern.Trend = classifyTrend(g.samples, window)
		out = append(out, g.pattern)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	if len(out) > 20 {
		out = out[:20]
	}
	return out
}

// classifyTrend compares the mean occurrence timestamp against the window
// midpoint. More than an hour past the midpoint is increasing; more than an
// hour before it is decreasing.
func classifyTrend(samples []time.Time, window report.TimeRange) string {
	if len(samples) == 0 || window.From.IsZero() || window.To.IsZero() {
		return "stable"
	}
	mid := window.From.Add(window.To.Sub(window.From) / 2)
	mean := meanTime(samples)

	diff := mean.Sub(mid)
	switch {
	case diff > time.Hour:
		return "increasing"
	case diff < -time.Hour:
		return "decreasing"
	default:
		return "stable"
	}
}

func meanTime(ts []time.Time) time.Time {
	if len(ts) == 0 {
		return time.Time{}
	}
	var total int64
	for _, t := range ts {
		total += t.UnixMilli()
	}
	return time.UnixMilli(total / int64(len(ts)))
}

// ServiceHealth is the per-service availability estimate.
type ServiceHealth struct {
	Service      string  `json:"service"`
	ErrorCount   int     `json:"errorCount"`
	ErrorRate    float64 `json:"errorRate"`
	Availability float64 `json:"availability"`
	Status       string  `json:"status"` // healthy, warning, critical
}

// ServiceHealth estimates availability per service from error counts and the
// request-volume provider.
func (a *Analyzer) ServiceHealth(ctx context.Context, tr report.TimeRange) []ServiceHealth {
	counts := map[string]int{}
	for _, rec := range a.source.Records(ctx) {
		if !tr.IsZero() && !tr.Contains(rec.Timestamp) {
			continue
		}
		counts[rec.Source.Service] += rec.OccurrenceCount
	}

	out := make([]ServiceHealth, 0, len(counts))
	for svc, count := range counts {
		volume := a.volume
		if volume == nil {
			volume = DefaultRequestVolume(count)
		}
		requests := volume(svc)
		if requests <= 0 {
			requests = 1
		}
		rate := float64(count) / requests
		availability := (1 - rate) * 100
		if availability < 0 {
			availability = 0
		}
		if availability > 100 {
			availability = 100
		}

		status := "critical"
		switch {
		case availability >= 99.5:
			status = "healthy"
		case availability >= 95:
			status = "warning"
		}

		out = append(out, ServiceHealth{
			Service:      svc,
			ErrorCount:   count,
			ErrorRate:    rate,
			Availability: availability,
			Status:       status,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// ResolutionMetrics summarizes how errors are being resolved.
type ResolutionMetrics struct {
	Resolved          int     `json:"resolved"`
	Unresolved        int     `json:"unresolved"`
	AutoResolved      int     `json:"autoResolved"`
	AvgResolutionMins float64 `json:"avgResolutionMinutes"`
}

// ResolutionMetrics computes resolution counts and the mean time from first
// occurrence to resolution.
func (a *Analyzer) ResolutionMetrics(ctx context.Context, tr report.TimeRange) *ResolutionMetrics {
	out := &ResolutionMetrics{}
	var totalMins float64
	for _, rec := range a.source.Records(ctx) {
		if !tr.IsZero() && !tr.Contains(rec.Timestamp) {
			continue
		}
		if !rec.Resolved {
			out.Unresolved++
			continue
		}
		out.Resolved++
		if rec.Resolution != nil {
			if rec.Resolution.Method == "auto" {
				out.AutoResolved++
			}
			totalMins += rec.Resolution.ResolvedAt.Sub(rec.FirstSeen).Minutes()
		}
	}
	if out.Resolved > 0 {
		out.AvgResolutionMins = totalMins / float64(out.Resolved)
	}
	return out
}
