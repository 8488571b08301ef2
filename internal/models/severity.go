package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity is the verdict level of a reading or the status of a summary.
type Severity int

const (
	SeverityNormal Severity = iota
	SeverityWarning
	SeverityCritical
)

// Severities lists every severity from least to most severe.
var Severities = []Severity{SeverityNormal, SeverityWarning, SeverityCritical}

func (s Severity) String() string {
	switch s {
	case SeverityNormal:
		return "normal"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// IsValid checks if the severity level is valid
func (s Severity) IsValid() bool {
	return s >= SeverityNormal && s <= SeverityCritical
}

// ParseSeverity accepts the lower-case names plus the common aliases
// dashboards send ("warn", "crit", "info", "ok").
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "ok", "info", "":
		return SeverityNormal, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "critical", "crit":
		return SeverityCritical, nil
	}
	return SeverityNormal, fmt.Errorf("invalid severity %q", s)
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b > a {
		return b
	}
	return a
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Severity) MarshalJSON() ([]byte, error) {
	b, err := s.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(b))
}

func (s *Severity) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	return s.UnmarshalText([]byte(str))
}

// SeverityCounts holds the number of nodes per severity.
type SeverityCounts struct {
	Normal   int `json:"normal"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
}

// Add increments the counter for s.
func (c *SeverityCounts) Add(s Severity) {
	switch s {
	case SeverityCritical:
		c.Critical++
	case SeverityWarning:
		c.Warning++
	default:
		c.Normal++
	}
}

// Merge adds every counter of o into c.
func (c *SeverityCounts) Merge(o SeverityCounts) {
	c.Normal += o.Normal
	c.Warning += o.Warning
	c.Critical += o.Critical
}

// Total returns the number of counted nodes.
func (c SeverityCounts) Total() int {
	return c.Normal + c.Warning + c.Critical
}

// Of returns the counter for s.
func (c SeverityCounts) Of(s Severity) int {
	switch s {
	case SeverityCritical:
		return c.Critical
	case SeverityWarning:
		return c.Warning
	default:
		return c.Normal
	}
}
