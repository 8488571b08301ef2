// Package aggregate rolls node states and child summaries up into the
// summary of their parent scope.
package aggregate

import (
	"cmp"
	"sort"

	"fogpulse/internal/models"
)

// Contribution is what one child, or the scope node itself, adds to a
// summary: a damped node status or a whole child summary.
type Contribution struct {
	NodeID   string
	Status   models.Severity
	Counts   models.SeverityCounts
	ScoreSum float64
}

// FromNode builds the contribution of a single node with its damped status.
func FromNode(nodeID string, damped models.Severity, score float64) Contribution {
	c := Contribution{NodeID: nodeID, Status: damped, ScoreSum: score}
	c.Counts.Add(damped)
	return c
}

// FromSummary builds the contribution of a child scope.
func FromSummary(s models.TierSummary) Contribution {
	return Contribution{
		NodeID:   s.ScopeID,
		Status:   s.Status,
		Counts:   s.Counts,
		ScoreSum: s.MeanScore * float64(s.Counts.Total()),
	}
}

// Aggregate builds the summary of scope for cycle. contributions is keyed by
// node id and may hold an entry for the scope itself. Every child of scope
// without an entry is reported in an IncompleteTopologyError; the summary is
// still returned, marked partial, so the cycle continues.
//
// The result depends only on its inputs: iteration order does not matter and
// the timestamp comes from the cycle, so equal inputs give equal summaries.
func Aggregate(cycle models.Cycle, scope models.Node, contributions map[string]Contribution, escalations int) (models.TierSummary, error) {
	summary := models.TierSummary{
		ScopeID:     scope.ID,
		Tier:        scope.Tier,
		Cycle:       cycle.Seq,
		Status:      models.SeverityNormal,
		Escalations: escalations,
		GeneratedAt: cycle.StartedAt,
	}

	var (
		scoreSum float64
		worst    *Contribution
	)

	include := func(c Contribution) {
		summary.Status = models.MaxSeverity(summary.Status, c.Status)
		summary.Counts.Merge(c.Counts)
		scoreSum += c.ScoreSum
	}

	if self, ok := contributions[scope.ID]; ok {
		include(self)
	}

	for _, id := range scope.Children {
		c, ok := contributions[id]
		if !ok {
			summary.Missing = append(summary.Missing, id)
			continue
		}
		include(c)
		if worst == nil || worse(c, *worst) {
			c := c
			worst = &c
		}
	}

	if worst != nil {
		summary.WorstChild = worst.NodeID
	}
	if n := summary.Counts.Total(); n > 0 {
		summary.MeanScore = scoreSum / float64(n)
	}

	if len(summary.Missing) > 0 {
		sort.Strings(summary.Missing)
		summary.Partial = true
		return summary, &models.IncompleteTopologyError{
			ScopeID: scope.ID,
			Cycle:   cycle.Seq,
			Missing: append([]string(nil), summary.Missing...),
		}
	}
	return summary, nil
}

// worse reports whether a ranks above b: higher status first, then more
// Critical nodes, then the lower id.
func worse(a, b Contribution) bool {
	if a.Status != b.Status {
		return a.Status > b.Status
	}
	if a.Counts.Critical != b.Counts.Critical {
		return a.Counts.Critical > b.Counts.Critical
	}
	return a.NodeID < b.NodeID
}

// Compare orders summaries worst first using the same rule as the worst
// child selection. It is suitable for slices.SortFunc.
func Compare(a, b models.TierSummary) int {
	if c := cmp.Compare(b.Status, a.Status); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Counts.Critical, a.Counts.Critical); c != 0 {
		return c
	}
	return cmp.Compare(a.ScopeID, b.ScopeID)
}
