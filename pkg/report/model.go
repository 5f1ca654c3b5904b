// SPDX-License-Identifier: Apache-2.0
// Package report defines the canonical error record model and the pure
// normalization, fingerprinting, and categorization stages of the Vigil
// telemetry pipeline.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity is the ordinal importance of an error, used for alert gating
// and trend comparison. Higher values are more severe.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"info", "low", "medium", "high", "critical"}

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	if s < SeverityInfo || s > SeverityCritical {
		return "unknown"
	}
	return severityNames[s]
}

// ParseSeverity converts a name to a Severity. Unknown names map to medium.
func ParseSeverity(name string) Severity {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "info":
		return SeverityInfo
	case "low":
		return SeverityLow
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// MarshalJSON encodes the severity as its string name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity from its string name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("severity: %w", err)
	}
	*s = ParseSeverity(name)
	return nil
}

// Category is the coarse cause classification of an error.
type Category string

const (
	CategoryAuth       Category = "auth"
	CategoryNetwork    Category = "network"
	CategoryRateLimit  Category = "rate_limit"
	CategoryValidation Category = "validation"
	CategoryAPI        Category = "api"
	CategoryConfig     Category = "config"
	CategoryUnknown    Category = "unknown"
)

// Source identifies where an error was raised.
type Source struct {
	Service   string `json:"service"`
	Method    string `json:"method"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
	UserID    string `json:"userId,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
	TeamID    string `json:"teamId,omitempty"`
}

// Context carries request-scoped detail captured alongside an error.
type Context struct {
	RequestID  string                 `json:"requestId"`
	SessionID  string                 `json:"sessionId,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	StackTrace string                 `json:"stackTrace,omitempty"`
	UserAgent  string                 `json:"userAgent,omitempty"`
	Headers    map[string]string      `json:"headers,omitempty"`
	Payload    interface{}            `json:"payload,omitempty"`
}

// Resolution records how and when an error was resolved.
type Resolution struct {
	Method     string    `json:"method"`
	ResolvedAt time.Time `json:"resolvedAt"`
	Details    string    `json:"details,omitempty"`
}

// ErrorRecord is the persisted representation of a deduplicated error.
// ID is derived from the fingerprint; repeats of the same fingerprint
// mutate the existing record rather than creating a new one.
type ErrorRecord struct {
	ID              string      `json:"id"`
	Timestamp       time.Time   `json:"timestamp"`
	Severity        Severity    `json:"severity"`
	Category        Category    `json:"category"`
	Source          Source      `json:"source"`
	Context         Context     `json:"context"`
	Code            string      `json:"code,omitempty"`
	Message         string      `json:"message"`
	Resolved        bool        `json:"resolved"`
	Resolution      *Resolution `json:"resolution,omitempty"`
	OccurrenceCount int         `json:"occurrenceCount"`
	FirstSeen       time.Time   `json:"firstSeen"`
	LastSeen        time.Time   `json:"lastSeen"`
	Tags            []string    `json:"tags"`
}

// HasTag reports whether the record carries the given tag.
func (r *ErrorRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// TimeRange is a half-open [From, To) time interval. A zero From or To
// leaves that side unbounded.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (tr TimeRange) Contains(t time.Time) bool {
	if !tr.From.IsZero() && t.Before(tr.From) {
		return false
	}
	if !tr.To.IsZero() && !t.Before(tr.To) {
		return false
	}
	return true
}

// IsZero reports whether both bounds are unset.
func (tr TimeRange) IsZero() bool {
	return tr.From.IsZero() && tr.To.IsZero()
}

// Filter selects records for queries. Multiple values within one dimension
// are ORed; dimensions present are ANDed together.
type Filter struct {
	Severities []Severity
	Categories []Category
	Services   []string
	UserID     string
	ChannelID  string
	TeamID     string
	Range      TimeRange
	Resolved   *bool
	Tags       []string
	Search     string
	Limit      int
	Offset     int
}
