// SPDX-License-Identifier: Apache-2.0

package report

import (
	"strings"
)

// Classification is the outcome of categorizing a normalized error.
type Classification struct {
	Category Category
	Severity Severity
}

// rule matches a normalized error by substrings of its lowercased code and
// message. Rules are evaluated in order; the first match wins.
type rule struct {
	needles  []string
	category Category
	severity Severity
}

var rules = []rule{
	{[]string{"rate_limit", "rate limit", "too many requests", "429"}, CategoryRateLimit, SeverityMedium},
	{[]string{"network", "timeout", "timed out", "connection", "econnrefused", "dns"}, CategoryNetwork, SeverityMedium},
	{[]string{"unauthorized", "forbidden", "auth", "token", "credential"}, CategoryAuth, SeverityHigh},
	{[]string{"invalid", "validation", "missing required", "malformed", "invalid_input"}, CategoryValidation, SeverityLow},
	{[]string{"config", "misconfigured"}, CategoryConfig, SeverityMedium},
	{[]string{"api_error", "api error", "bad gateway", "internal server error", "upstream"}, CategoryAPI, SeverityMedium},
}

// Classify assigns a category and severity to a normalized error. It is a
// pure function: the same input always yields the same output. Unmatched
// errors fall through to unknown/medium.
func Classify(n Normalized) Classification {
	haystack := strings.ToLower(string(n.Code)) + " " + strings.ToLower(n.Message)
	for _, r := range rules {
		for _, needle := range r.needles {
			if strings.Contains(haystack, needle) {
				return Classification{Category: r.category, Severity: r.severity}
			}
		}
	}
	return Classification{Category: CategoryUnknown, Severity: SeverityMedium}
}
