package alerts

import "fogpulse/internal/models"

// Metric names reported by the simulated network.
const (
	MetricCPULoad    = "cpu_load"
	MetricPacketLoss = "packet_loss"
	MetricLatencyMS  = "latency_ms"
)

// DefaultRules returns thresholds tuned per tier: the closer a node sits to
// the cloud, the tighter its limits, since more of the network depends on it.
func DefaultRules() Rules {
	return Rules{
		Base: RuleSet{
			MetricCPULoad:    {Warning: 80, Critical: 90, Direction: Above, Weight: 0.3},
			MetricPacketLoss: {Warning: 0.05, Critical: 0.15, Direction: Above, Weight: 0.4},
			MetricLatencyMS:  {Warning: 200, Critical: 400, Direction: Above, Weight: 0.3},
		},
		Tiers: map[models.Tier]RuleSet{
			models.TierFog: {
				MetricCPULoad:    {Warning: 75, Critical: 88, Direction: Above, Weight: 0.35},
				MetricPacketLoss: {Warning: 0.02, Critical: 0.08, Direction: Above, Weight: 0.4},
				MetricLatencyMS:  {Warning: 120, Critical: 250, Direction: Above, Weight: 0.25},
			},
			models.TierCloud: {
				MetricCPULoad:    {Warning: 70, Critical: 85, Direction: Above, Weight: 0.4},
				MetricPacketLoss: {Warning: 0.01, Critical: 0.05, Direction: Above, Weight: 0.35},
				MetricLatencyMS:  {Warning: 100, Critical: 200, Direction: Above, Weight: 0.25},
			},
		},
	}
}
