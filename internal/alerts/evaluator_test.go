package alerts_test

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fogpulse/internal/alerts"
	"fogpulse/internal/models"
)

func testRules() alerts.RuleSet {
	return alerts.RuleSet{
		"cpu_load":    {Warning: 75, Critical: 90, Direction: alerts.Above},
		"packet_loss": {Warning: 0.02, Critical: 0.1, Direction: alerts.Above, Weight: 2},
		"battery_pct": {Warning: 30, Critical: 10, Direction: alerts.Below},
	}
}

func reading(metrics map[string]float64) models.MetricReading {
	return models.MetricReading{
		NodeID:    "edge-01",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Metrics:   metrics,
	}
}

func TestEvaluateSeverities(t *testing.T) {
	tests := []struct {
		name      string
		metrics   map[string]float64
		want      models.Severity
		triggered []string
	}{
		{"all normal", map[string]float64{"cpu_load": 40, "packet_loss": 0.001}, models.SeverityNormal, nil},
		{"at warning threshold is normal", map[string]float64{"cpu_load": 75}, models.SeverityNormal, nil},
		{"warning", map[string]float64{"cpu_load": 80}, models.SeverityWarning, []string{"cpu_load"}},
		{"critical", map[string]float64{"cpu_load": 95}, models.SeverityCritical, []string{"cpu_load"}},
		{"below direction warning", map[string]float64{"battery_pct": 25}, models.SeverityWarning, []string{"battery_pct"}},
		{"below direction critical", map[string]float64{"battery_pct": 5}, models.SeverityCritical, []string{"battery_pct"}},
		{"max severity wins", map[string]float64{"cpu_load": 80, "packet_loss": 0.5}, models.SeverityCritical, []string{"cpu_load", "packet_loss"}},
		{"unknown metrics ignored", map[string]float64{"cpu_load": 10, "disk_io": 1e9}, models.SeverityNormal, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := alerts.Evaluate(reading(tt.metrics), testRules())
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Severity)
			assert.Equal(t, tt.triggered, v.Triggered)
			assert.Equal(t, "edge-01", v.NodeID)
		})
	}
}

func TestEvaluateScore(t *testing.T) {
	// cpu: (90-75)/75 = 0.2, weight 1; packet_loss: (0.03-0.02)/0.02 = 0.5, weight 2
	v, err := alerts.Evaluate(reading(map[string]float64{"cpu_load": 90, "packet_loss": 0.03}), testRules())
	require.NoError(t, err)
	assert.InDelta(t, 1.2, v.Score, 1e-9)

	v, err = alerts.Evaluate(reading(map[string]float64{"cpu_load": 10}), testRules())
	require.NoError(t, err)
	assert.Zero(t, v.Score)

	// below: (30-15)/30 = 0.5
	v, err = alerts.Evaluate(reading(map[string]float64{"battery_pct": 15}), testRules())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, v.Score, 1e-9)
}

func TestEvaluateZeroThresholdUsesRawBreach(t *testing.T) {
	rules := alerts.RuleSet{"errors": {Warning: 0, Critical: 5}}
	v, err := alerts.Evaluate(reading(map[string]float64{"errors": 3}), rules)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityWarning, v.Severity)
	assert.InDelta(t, 3.0, v.Score, 1e-9)
}

func TestEvaluateNoRecognizedMetrics(t *testing.T) {
	_, err := alerts.Evaluate(reading(map[string]float64{"disk_io": 3}), testRules())

	var invalid *models.InvalidReadingError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "edge-01", invalid.NodeID)
	assert.ErrorIs(t, err, models.ErrNoRecognized)
}

func TestEvaluateProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	rules := alerts.RuleSet{
		"cpu_load":    {Warning: 75, Critical: 90},
		"latency_ms":  {Warning: 150, Critical: 300},
		"packet_loss": {Warning: 0.02, Critical: 0.1},
	}

	for i := 0; i < 500; i++ {
		// every metric at or below warning
		normal := map[string]float64{}
		for name, r := range rules {
			normal[name] = rng.Float64() * r.Warning
		}
		v, err := alerts.Evaluate(reading(normal), rules)
		require.NoError(t, err)
		require.Equal(t, models.SeverityNormal, v.Severity, "metrics %v", normal)

		// one metric above critical, the rest arbitrary
		mixed := map[string]float64{}
		for name, r := range rules {
			mixed[name] = rng.Float64() * r.Critical * 1.5
		}
		names := rules.Metrics()
		hot := names[rng.Intn(len(names))]
		mixed[hot] = rules[hot].Critical * (1.01 + rng.Float64())
		v, err = alerts.Evaluate(reading(mixed), rules)
		require.NoError(t, err)
		require.Equal(t, models.SeverityCritical, v.Severity, "metrics %v", mixed)
		require.Contains(t, v.Triggered, hot)
	}
}

func TestRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    alerts.Rule
		wantErr error
	}{
		{"above ok", alerts.Rule{Warning: 1, Critical: 2}, nil},
		{"below ok", alerts.Rule{Warning: 2, Critical: 1, Direction: alerts.Below}, nil},
		{"above reversed", alerts.Rule{Warning: 2, Critical: 1}, alerts.ErrThresholdOrder},
		{"below reversed", alerts.Rule{Warning: 1, Critical: 2, Direction: alerts.Below}, alerts.ErrThresholdOrder},
		{"bad direction", alerts.Rule{Warning: 1, Critical: 2, Direction: "sideways"}, alerts.ErrInvalidDirection},
		{"negative weight", alerts.Rule{Warning: 1, Critical: 2, Weight: -1}, alerts.ErrNegativeWeight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRulesForTier(t *testing.T) {
	rules := alerts.DefaultRules()
	require.NoError(t, rules.Validate())

	edge := rules.ForTier(models.TierEdge)
	cloud := rules.ForTier(models.TierCloud)

	assert.Equal(t, rules.Base[alerts.MetricCPULoad], edge[alerts.MetricCPULoad])
	assert.Less(t, cloud[alerts.MetricCPULoad].Critical, edge[alerts.MetricCPULoad].Critical)

	// overriding must not leak into the base set
	assert.Equal(t, 90.0, rules.Base[alerts.MetricCPULoad].Critical)
}

func TestEvaluateScoreIsReproducible(t *testing.T) {
	rules := alerts.RuleSet{}
	metrics := map[string]float64{}
	for i := 0; i < 20; i++ {
		name := string(rune('a'+i)) + "_metric"
		rules[name] = alerts.Rule{Warning: 0.1 * float64(i+1), Critical: 100, Direction: alerts.Above, Weight: 0.1 + 0.07*float64(i)}
		metrics[name] = 0.37*float64(i+1) + 0.013
	}

	first, err := alerts.Evaluate(reading(metrics), rules)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := alerts.Evaluate(reading(metrics), rules)
		require.NoError(t, err)
		require.Equal(t, first.Score, again.Score)
		require.Equal(t, first.Triggered, again.Triggered)
	}
	assert.IsIncreasing(t, first.Triggered)
}
