// SPDX-License-Identifier: Apache-2.0

package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/jllopis/vigil/pkg/report"
)

const stackTraceLimit = 500

// Field is one labeled value in a message block.
type Field struct {
	Label string
	Value string
}

// Message is the chat-ready rendering of an alert: a severity header, a
// field block, the error message as a code block, and an optional extended
// detail block.
type Message struct {
	Header  string
	Fields  []Field
	Body    string
	Details []Field
}

// Format builds the alert message for a record. The detail block is only
// populated when includeDetails is set.
func Format(rec *report.ErrorRecord, includeDetails bool) Message {
	m := Message{
		Header: fmt.Sprintf("%s %s error in %s",
			severityIndicator(rec.Severity),
			strings.ToUpper(rec.Severity.String()),
			rec.Source.Service),
		Fields: []Field{
			{Label: "Severity", Value: rec.Severity.String()},
			{Label: "Category", Value: string(rec.Category)},
			{Label: "Service", Value: rec.Source.Service},
			{Label: "Time", Value: rec.LastSeen.UTC().Format(time.RFC3339)},
		},
		Body: rec.Message,
	}

	if includeDetails {
		m.Details = []Field{
			{Label: "Method", Value: rec.Source.Method},
			{Label: "File", Value: rec.Source.File},
			{Label: "Occurrences", Value: fmt.Sprintf("%d", rec.OccurrenceCount)},
			{Label: "First seen", Value: rec.FirstSeen.UTC().Format(time.RFC3339)},
			{Label: "ID", Value: rec.ID},
		}
		if st := rec.Context.StackTrace; st != "" {
			if len(st) > stackTraceLimit {
				st = st[:stackTraceLimit]
			}
			m.Details = append(m.Details, Field{Label: "Stack trace", Value: st})
		}
	}
	return m
}

// Render flattens the message to plain chat text.
func (m Message) Render() string {
	var b strings.Builder
	b.WriteString(m.Header)
	b.WriteString("\n")
	for _, f := range m.Fields {
		fmt.Fprintf(&b, "%s: %s\n", f.Label, f.Value)
	}
	fmt.Fprintf(&b, "```\n%s\n```\n", m.Body)
	for _, f := range m.Details {
		if f.Value == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", f.Label, f.Value)
	}
	return b.String()
}

func severityIndicator(s report.Severity) string {
	switch s {
	case report.SeverityCritical:
		return "🚨"
	case report.SeverityHigh:
		return "🔴"
	case report.SeverityMedium:
		return "🟠"
	case report.SeverityLow:
		return "🟡"
	default:
		return "🔵"
	}
}
