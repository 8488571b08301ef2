package models

import "time"

// TierSummary is the health rollup of one aggregation scope (a node with
// children) for one cycle. A new cycle produces a new summary; emitted
// summaries are never modified.
type TierSummary struct {
	ScopeID     string         `json:"scope_id"`
	Tier        Tier           `json:"tier"`
	Cycle       uint64         `json:"cycle"`
	Status      Severity       `json:"status"`
	Counts      SeverityCounts `json:"counts"`
	WorstChild  string         `json:"worst_child,omitempty"`
	Partial     bool           `json:"partial"`
	Missing     []string       `json:"missing,omitempty"`
	MeanScore   float64        `json:"mean_score"`
	Escalations int            `json:"escalations"`
	GeneratedAt time.Time      `json:"generated_at"`
}
