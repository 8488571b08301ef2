package aggregate_test

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fogpulse/internal/aggregate"
	"fogpulse/internal/models"
)

var cycle = models.NewCycle(3, time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC))

func fog(id string, children ...string) models.Node {
	return models.Node{ID: id, Tier: models.TierFog, Parent: "cloud-01", Children: children}
}

func TestAggregateWorstOfChildren(t *testing.T) {
	scope := fog("fog-01", "edge-01", "edge-02", "edge-03")
	contributions := map[string]aggregate.Contribution{
		"edge-01": aggregate.FromNode("edge-01", models.SeverityNormal, 0),
		"edge-02": aggregate.FromNode("edge-02", models.SeverityWarning, 0.4),
		"edge-03": aggregate.FromNode("edge-03", models.SeverityCritical, 0.8),
		"fog-01":  aggregate.FromNode("fog-01", models.SeverityNormal, 0),
	}

	s, err := aggregate.Aggregate(cycle, scope, contributions, 2)
	require.NoError(t, err)

	assert.Equal(t, models.SeverityCritical, s.Status)
	assert.Equal(t, models.SeverityCounts{Normal: 2, Warning: 1, Critical: 1}, s.Counts)
	assert.Equal(t, "edge-03", s.WorstChild)
	assert.False(t, s.Partial)
	assert.Equal(t, 2, s.Escalations)
	assert.InDelta(t, 0.3, s.MeanScore, 1e-9)
	assert.Equal(t, cycle.StartedAt, s.GeneratedAt)
	assert.Equal(t, uint64(3), s.Cycle)
	assert.Equal(t, models.TierFog, s.Tier)
}

func TestAggregateStatusRule(t *testing.T) {
	tests := []struct {
		name     string
		statuses []models.Severity
		want     models.Severity
	}{
		{"all normal", []models.Severity{models.SeverityNormal, models.SeverityNormal}, models.SeverityNormal},
		{"any warning", []models.Severity{models.SeverityNormal, models.SeverityWarning}, models.SeverityWarning},
		{"any critical", []models.Severity{models.SeverityWarning, models.SeverityCritical}, models.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope := fog("fog-01")
			contributions := map[string]aggregate.Contribution{}
			for i, sev := range tt.statuses {
				id := string(rune('a' + i))
				scope.Children = append(scope.Children, id)
				contributions[id] = aggregate.FromNode(id, sev, 0)
			}
			s, err := aggregate.Aggregate(cycle, scope, contributions, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Status)
		})
	}
}

func TestAggregateTieBreakIsOrderIndependent(t *testing.T) {
	a := models.TierSummary{ScopeID: "fog-02", Tier: models.TierFog, Status: models.SeverityCritical, Counts: models.SeverityCounts{Critical: 1, Normal: 3}}
	b := models.TierSummary{ScopeID: "fog-01", Tier: models.TierFog, Status: models.SeverityCritical, Counts: models.SeverityCounts{Critical: 2, Normal: 2}}
	c := models.TierSummary{ScopeID: "fog-03", Tier: models.TierFog, Status: models.SeverityCritical, Counts: models.SeverityCounts{Critical: 2, Warning: 1}}

	for _, children := range [][]string{{"fog-01", "fog-02", "fog-03"}, {"fog-03", "fog-02", "fog-01"}} {
		scope := models.Node{ID: "cloud-01", Tier: models.TierCloud, Children: children}
		s, err := aggregate.Aggregate(cycle, scope, map[string]aggregate.Contribution{
			"fog-01": aggregate.FromSummary(b),
			"fog-02": aggregate.FromSummary(a),
			"fog-03": aggregate.FromSummary(c),
		}, 0)
		require.NoError(t, err)
		// fog-01 and fog-03 tie on status and critical count; lower id wins
		assert.Equal(t, "fog-01", s.WorstChild)
		assert.Equal(t, models.SeverityCounts{Normal: 5, Warning: 1, Critical: 5}, s.Counts)
	}

	sums := []models.TierSummary{a, c, b}
	slices.SortFunc(sums, aggregate.Compare)
	assert.Equal(t, []string{"fog-01", "fog-03", "fog-02"}, []string{sums[0].ScopeID, sums[1].ScopeID, sums[2].ScopeID})
}

func TestAggregateIdempotent(t *testing.T) {
	scope := fog("fog-01", "edge-01", "edge-02")
	contributions := map[string]aggregate.Contribution{
		"edge-01": aggregate.FromNode("edge-01", models.SeverityWarning, 0.25),
		"edge-02": aggregate.FromNode("edge-02", models.SeverityCritical, 1.5),
	}

	first, err := aggregate.Aggregate(cycle, scope, contributions, 1)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := aggregate.Aggregate(cycle, scope, contributions, 1)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAggregateMissingChildIsPartial(t *testing.T) {
	scope := fog("fog-02", "edge-04", "edge-05", "edge-06")
	contributions := map[string]aggregate.Contribution{
		"edge-04": aggregate.FromNode("edge-04", models.SeverityNormal, 0),
		"edge-06": aggregate.FromNode("edge-06", models.SeverityWarning, 0.1),
	}

	s, err := aggregate.Aggregate(cycle, scope, contributions, 0)

	var incomplete *models.IncompleteTopologyError
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, "fog-02", incomplete.ScopeID)
	assert.Equal(t, []string{"edge-05"}, incomplete.Missing)

	assert.True(t, s.Partial)
	assert.Equal(t, []string{"edge-05"}, s.Missing)
	assert.Equal(t, models.SeverityWarning, s.Status)
	assert.Equal(t, 2, s.Counts.Total())
}

func TestFromSummaryPreservesScore(t *testing.T) {
	child := models.TierSummary{ScopeID: "fog-01", Counts: models.SeverityCounts{Normal: 4}, MeanScore: 0.5}
	c := aggregate.FromSummary(child)
	assert.InDelta(t, 2.0, c.ScoreSum, 1e-9)
	assert.Equal(t, child.Counts, c.Counts)
}
