// SPDX-License-Identifier: Apache-2.0
// Package alert evaluates alerting policy over new error occurrences and
// fans out rate-limited notifications to chat channels.
package alert

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/vigil/pkg/report"
)

// RateLimit caps how many alerts may be sent per time window.
type RateLimit struct {
	MaxAlerts         int `yaml:"max_alerts"`
	TimeWindowMinutes int `yaml:"time_window_minutes"`
}

// Window returns the bucket window duration.
func (rl RateLimit) Window() time.Duration {
	if rl.TimeWindowMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(rl.TimeWindowMinutes) * time.Minute
}

// Policy decides which records produce notifications.
type Policy struct {
	Enabled           bool
	SeverityThreshold report.Severity
	Categories        []report.Category
	Channels          []string
	IncludeDetails    bool
	RateLimit         RateLimit
}

// DefaultPolicy alerts on high and critical errors across all categories.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:           true,
		SeverityThreshold: report.SeverityHigh,
		Categories: []report.Category{
			report.CategoryAuth, report.CategoryNetwork, report.CategoryRateLimit,
			report.CategoryValidation, report.CategoryAPI, report.CategoryConfig,
			report.CategoryUnknown,
		},
		IncludeDetails: true,
		RateLimit:      RateLimit{MaxAlerts: 10, TimeWindowMinutes: 60},
	}
}

// ShouldAlert reports whether the record qualifies under the policy:
// enabled, severity at or above the threshold, and category allowed.
func (p Policy) ShouldAlert(rec *report.ErrorRecord) bool {
	if !p.Enabled || rec == nil {
		return false
	}
	if rec.Severity < p.SeverityThreshold {
		return false
	}
	for _, cat := range p.Categories {
		if cat == rec.Category {
			return true
		}
	}
	return false
}

// policyFile is the on-disk YAML shape of a policy.
type policyFile struct {
	Enabled           bool      `yaml:"enabled"`
	SeverityThreshold string    `yaml:"severity_threshold"`
	Categories        []string  `yaml:"categories"`
	Channels          []string  `yaml:"channels"`
	IncludeDetails    bool      `yaml:"include_details"`
	RateLimit         RateLimit `yaml:"rate_limit"`
}

// LoadPolicy reads a policy from a YAML file. Missing rate-limit values
// fall back to the defaults.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML policy document.
func ParsePolicy(data []byte) (Policy, error) {
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}

	p := DefaultPolicy()
	p.Enabled = pf.Enabled
	p.Channels = pf.Channels
	p.IncludeDetails = pf.IncludeDetails
	if pf.SeverityThreshold != "" {
		p.SeverityThreshold = report.ParseSeverity(pf.SeverityThreshold)
	}
	if len(pf.Categories) > 0 {
		p.Categories = p.Categories[:0]
		for _, c := range pf.Categories {
			p.Categories = append(p.Categories, report.Category(c))
		}
	}
	if pf.RateLimit.MaxAlerts > 0 {
		p.RateLimit.MaxAlerts = pf.RateLimit.MaxAlerts
	}
	if pf.RateLimit.TimeWindowMinutes > 0 {
		p.RateLimit.TimeWindowMinutes = pf.RateLimit.TimeWindowMinutes
	}
	return p, nil
}
