// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// DailyCountSource is implemented by record sources that also maintain
// per-day occurrence buckets. Forecasting prefers those: deduplication
// rewrites a record's timestamp on every repeat, so grouping records by
// timestamp collapses a multi-day history into a single day.
type DailyCountSource interface {
	// DailyCounts returns total occurrences keyed by yyyy-mm-dd date.
	DailyCounts(ctx context.Context) map[string]int
}

// ForecastPoint is one projected daily error count.
type ForecastPoint struct {
	Date           time.Time `json:"date"`
	PredictedCount int       `json:"predictedCount"`
	Confidence     float64   `json:"confidence"` // R² of the fit, 0-100
}

// Forecast is a short-term error volume projection.
type Forecast struct {
	Points          []ForecastPoint `json:"forecast"`
	Recommendations []string        `json:"recommendations"`
}

// Forecast fits an ordinary least-squares line over historical daily
// occurrence counts and projects the next `days` daily counts. With fewer
// than two distinct days of data the forecast is empty, never an error.
func (a *Analyzer) Forecast(ctx context.Context, days int) *Forecast {
	out := &Forecast{}
	if days <= 0 {
		return out
	}

	daily := a.dailyTotals(ctx)
	if len(daily) < 2 {
		return out
	}

	type point struct {
		x float64 // days since epoch
		y float64
	}
	points := make([]point, 0, len(daily))
	var lastDay time.Time
	for day, count := range daily {
		points = append(points, point{
			x: float64(day.Unix()) / 86400,
			y: float64(count),
		})
		if day.After(lastDay) {
			lastDay = day
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].x < points[j].x })

	// Ordinary least squares: y = slope*x + intercept.
	n := float64(len(points))
	var sumX, sumY, sumXY, sumXX float64
	for _, p := range points {
		sumX += p.x
		sumY += p.y
		sumXY += p.x * p.y
		sumXX += p.x * p.x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return out
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	// R² as the share of variance explained by the fit.
	meanY := sumY / n
	var ssTot, ssRes float64
	for _, p := range points {
		predicted := slope*p.x + intercept
		ssTot += (p.y - meanY) * (p.y - meanY)
		ssRes += (p.y - predicted) * (p.y - predicted)
	}
	confidence := 100.0
	if ssTot > 0 {
		confidence = (1 - ssRes/ssTot) * 100
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	for i := 1; i <= days; i++ {
		day := lastDay.Add(time.Duration(i) * 24 * time.Hour)
		x := float64(day.Unix()) / 86400
		predicted := math.Round(slope*x + intercept)
		if predicted < 0 {
			predicted = 0
		}
		out.Points = append(out.Points, ForecastPoint{
			Date:           day,
			PredictedCount: int(predicted),
			Confidence:     confidence,
		})
	}

	out.Recommendations = recommendations(slope, confidence, daily)
	return out
}

// dailyTotals keys occurrence totals by UTC day, reading the per-day
// buckets when the source keeps them and falling back to record
// timestamps otherwise. Malformed bucket dates are skipped.
func (a *Analyzer) dailyTotals(ctx context.Context) map[time.Time]int {
	daily := map[time.Time]int{}
	if src, ok := a.source.(DailyCountSource); ok {
		for date, count := range src.DailyCounts(ctx) {
			day, err := time.Parse("2006-01-02", date)
			if err != nil {
				continue
			}
			daily[day] += count
		}
		if len(daily) > 0 {
			return daily
		}
	}
	for _, r := range a.source.Records(ctx) {
		day := r.Timestamp.UTC().Truncate(24 * time.Hour)
		daily[day] += r.OccurrenceCount
	}
	return daily
}

func recommendations(slope, confidence float64, daily map[time.Time]int) []string {
	var out []string
	switch {
	case slope > 0.5:
		out = append(out, fmt.Sprintf(
			"error volume is trending upward (+%.1f/day); review recent integration changes", slope))
	case slope < -0.5:
		out = append(out, "error volume is trending downward; recent fixes appear effective")
	default:
		out = append(out, "error volume is roughly flat")
	}
	if confidence < 50 {
		out = append(out, "forecast confidence is low; daily volumes are noisy")
	}

	peak := 0
	for _, count := range daily {
		if count > peak {
			peak = count
		}
	}
	if peak > 0 {
		out = append(out, fmt.Sprintf("peak observed daily volume: %d", peak))
	}
	return out
}
