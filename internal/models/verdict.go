package models

import "time"

// Verdict is the evaluator's judgment for one reading. It is never mutated
// after creation; Triggered is owned by the verdict.
type Verdict struct {
	NodeID    string    `json:"node_id"`
	Tier      Tier      `json:"tier"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Triggered []string  `json:"triggered,omitempty"`
	Score     float64   `json:"score"`
}

// IsAlert reports whether the verdict should be dispatched as an alert.
func (v Verdict) IsAlert() bool {
	return v.Severity >= SeverityWarning
}
