// Package alert holds the canonical alert record and the normalizer
// that builds it from raw Zabbix trigger data. Everything downstream of
// this package operates on fully-resolved records; absence, placeholder
// and fallback semantics are interpreted here and nowhere else.
package alert

import (
	"fmt"
	"strconv"
	"strings"
)

// Sentinel values for fields the upstream record may not carry.
const (
	UnknownHost     = "Unknown"
	GeneralCategory = "General"
	NoData          = "No data"
)

// Ack status labels used in rendered output.
const (
	Acknowledged   = "Acknowledged"
	Unacknowledged = "Unacknowledged"
)

var severityLabels = [...]string{
	"Not classified",
	"Info",
	"Warning",
	"Average",
	"High",
	"Disaster",
}

// SeverityLabel maps a Zabbix priority code to its label. Codes outside
// 0..5 render as their decimal form; a non-numeric code is passed
// through verbatim. Never fails.
func SeverityLabel(code string) string {
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return strings.TrimSpace(code)
	}
	if n < 0 || n >= len(severityLabels) {
		return strconv.Itoa(n)
	}
	return severityLabels[n]
}

// Record is the canonical form of one active alert.
type Record struct {
	ID          string `json:"id"`
	SourceLabel string `json:"source_label"`
	Host        string `json:"host"`
	Category    string `json:"category"`
	Detail      string `json:"detail"`
	Severity    string `json:"severity"`
	Opdata      string `json:"operational_data"`
	// LastChange is the upstream epoch-seconds timestamp of the last
	// state change. AgeSeconds is derived from it at normalization time
	// and is deliberately excluded from change comparison.
	LastChange int64 `json:"last_change"`
	AgeSeconds int64 `json:"age_seconds"`
	Acked      bool  `json:"acknowledged"`
}

// AckStatus returns the rendered acknowledgment label.
func (r Record) AckStatus() string {
	if r.Acked {
		return Acknowledged
	}
	return Unacknowledged
}

// Render builds the semicolon-delimited display line for the record.
// Field order is fixed; change comparison uses individual fields, never
// this string.
func (r Record) Render() string {
	return strings.Join([]string{
		r.ID,
		r.SourceLabel,
		r.Host,
		r.Category,
		r.Detail,
		r.Opdata,
		FormatDuration(r.AgeSeconds),
		r.AckStatus(),
	}, "; ")
}

// Kind classifies a change event.
type Kind string

const (
	KindNew      Kind = "NEW PROBLEM"
	KindUpdated  Kind = "DATA UPDATE"
	KindResolved Kind = "RESOLVED"
)

// Event is one detected change. For KindResolved the record is the
// last-known state from the prior snapshot.
type Event struct {
	Kind   Kind
	Record Record
}

// Line renders the event as the emitter output line.
func (e Event) Line() string {
	return string(e.Kind) + "; " + e.Record.Render()
}

// FormatDuration renders elapsed seconds as "Nd Nh Nm", omitting
// zero-valued leading units and falling back to "0m". Negative input
// (clock skew) is clamped to zero.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	minutes := seconds / 60
	hours := minutes / 60
	minutes %= 60
	days := hours / 24
	hours %= 24

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if len(parts) == 0 {
		return "0m"
	}
	return strings.Join(parts, " ")
}
