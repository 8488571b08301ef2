package state_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fogpulse/internal/models"
	"fogpulse/internal/state"
)

var base = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func verdict(sev models.Severity, i int, score float64) models.Verdict {
	return models.Verdict{
		NodeID:    "edge-01",
		Tier:      models.TierEdge,
		Timestamp: base.Add(time.Duration(i) * 30 * time.Second),
		Severity:  sev,
		Score:     score,
	}
}

func newState(ring int) *state.NodeState {
	return state.NewNodeState(models.Node{ID: "edge-01", Tier: models.TierEdge}, ring, 0.5)
}

func TestRingDropsOldest(t *testing.T) {
	s := newState(3)
	for i := 0; i < 5; i++ {
		s.Apply(verdict(models.SeverityNormal, i, float64(i)), uint64(i+1), base)
	}

	recent := s.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, base.Add(60*time.Second), recent[0].Timestamp)
	assert.Equal(t, base.Add(120*time.Second), recent[2].Timestamp)
	assert.Equal(t, recent[2].Timestamp, s.LastTimestamp())
}

func TestFlapDamping(t *testing.T) {
	tests := []struct {
		name string
		seq  []models.Severity
		k    int
		want models.Severity
	}{
		{"single critical damped to warning", []models.Severity{models.SeverityNormal, models.SeverityCritical}, 2, models.SeverityWarning},
		{"two consecutive critical", []models.Severity{models.SeverityCritical, models.SeverityCritical}, 2, models.SeverityCritical},
		{"interrupted run", []models.Severity{models.SeverityCritical, models.SeverityWarning, models.SeverityCritical}, 2, models.SeverityWarning},
		{"critical then normal", []models.Severity{models.SeverityCritical, models.SeverityNormal}, 2, models.SeverityNormal},
		{"k of one disables damping", []models.Severity{models.SeverityCritical}, 1, models.SeverityCritical},
		{"k of three", []models.Severity{models.SeverityCritical, models.SeverityCritical}, 3, models.SeverityWarning},
		{"warning passes through", []models.Severity{models.SeverityWarning}, 2, models.SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newState(8)
			for i, sev := range tt.seq {
				s.Apply(verdict(sev, i, 0), uint64(i+1), base)
			}
			assert.Equal(t, tt.want, s.DampedStatus(tt.k))
			assert.Equal(t, tt.seq[len(tt.seq)-1], s.Current())
		})
	}
}

func TestSingleCriticalNeverDampedCritical(t *testing.T) {
	s := newState(4)
	s.Apply(verdict(models.SeverityCritical, 0, 1), 1, base)
	assert.NotEqual(t, models.SeverityCritical, s.DampedStatus(2))

	for i := 1; i < 10; i++ {
		s.Apply(verdict(models.SeverityNormal, i, 0), uint64(i+1), base)
		assert.NotEqual(t, models.SeverityCritical, s.DampedStatus(2))
	}
}

func TestReportedInAndEMA(t *testing.T) {
	s := newState(4)
	assert.False(t, s.ReportedIn(0))

	s.Apply(verdict(models.SeverityNormal, 0, 2), 1, base)
	assert.True(t, s.ReportedIn(1))
	assert.False(t, s.ReportedIn(2))
	assert.InDelta(t, 2.0, s.ScoreEMA(), 1e-9)

	s.Apply(verdict(models.SeverityNormal, 1, 4), 2, base)
	assert.InDelta(t, 3.0, s.ScoreEMA(), 1e-9)

	snap := s.Snapshot(2)
	assert.Equal(t, "edge-01", snap.NodeID)
	assert.Equal(t, uint64(2), snap.LastCycle)
	assert.Len(t, snap.Recent, 2)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "fp:summary:fog-01", state.SummaryKey("fp", "fog-01"))
	assert.Equal(t, "fp:status:cloud", state.TierStatusKey("fp", models.TierCloud))
	assert.Equal(t, "fp:alerts:edge-07", state.AlertsKey("fp", "edge-07"))
}
