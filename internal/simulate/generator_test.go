package simulate

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fogpulse/internal/alerts"
	"fogpulse/internal/models"
	"fogpulse/internal/topology"
)

func nodes(t *testing.T) []models.Node {
	t.Helper()
	topo, err := topology.Build(topology.Simulated(2, 3))
	require.NoError(t, err)
	return topo.Nodes()
}

func cycle(seq uint64) models.Cycle {
	return models.NewCycle(seq, time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC).Add(time.Duration(seq)*time.Second))
}

func TestGeneratorIsDeterministic(t *testing.T) {
	a := New(nodes(t), Config{Seed: 7, FaultRate: 0.3})
	b := New(nodes(t), Config{Seed: 7, FaultRate: 0.3})

	for seq := uint64(1); seq <= 10; seq++ {
		ra := slices.Collect(a.Readings(context.Background(), cycle(seq)))
		rb := slices.Collect(b.Readings(context.Background(), cycle(seq)))
		assert.Equal(t, ra, rb)
	}
}

func TestGeneratorWithoutFaults(t *testing.T) {
	ns := nodes(t)
	g := New(ns, Config{Seed: 1})

	for seq := uint64(1); seq <= 20; seq++ {
		c := cycle(seq)
		readings := slices.Collect(g.Readings(context.Background(), c))
		require.Len(t, readings, len(ns))
		for _, r := range readings {
			assert.Equal(t, c.StartedAt, r.Timestamp)
			assert.NoError(t, r.Validate())
			assert.Len(t, r.Metrics, 3)
			assert.LessOrEqual(t, r.Metrics[alerts.MetricCPULoad], 100.0)
			assert.GreaterOrEqual(t, r.Metrics[alerts.MetricPacketLoss], 0.0)
			assert.Equal(t, AnomalyNone, g.LastAnomaly(r.NodeID))
		}
	}
}

func TestGeneratorInjectsFaults(t *testing.T) {
	ns := nodes(t)
	g := New(ns, Config{Seed: 3, FaultRate: 1})

	total, silent := 0, 0
	seen := map[Anomaly]bool{}
	for seq := uint64(1); seq <= 30; seq++ {
		readings := slices.Collect(g.Readings(context.Background(), cycle(seq)))
		total += len(readings)
		silent += len(ns) - len(readings)
		for _, n := range ns {
			seen[g.LastAnomaly(n.ID)] = true
		}
	}
	assert.Positive(t, silent, "some nodes go silent")
	assert.Positive(t, total)
	assert.False(t, seen[AnomalyNone])
	assert.True(t, seen[AnomalyOverload])
}

func TestGeneratorStopsOnCancel(t *testing.T) {
	g := New(nodes(t), Config{Seed: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, slices.Collect(g.Readings(ctx, cycle(1))))
}
