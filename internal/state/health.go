package state

import (
	"fmt"
	"math"
	"time"

	"fogpulse/internal/alerts"
	"fogpulse/internal/models"
)

// Health score bounds and adjustments.
const (
	BaseHealthThreshold = 60.0
	MinHealthThreshold  = 20.0
	MaxHealthThreshold  = 95.0
	AnomalyAdjustment   = -20.0

	// Impact of a fault label the table does not know.
	UnknownAnomalyImpact = 0.5
)

// Metric values assumed when a reading omits one.
const (
	defaultCPULoad    = 50.0
	defaultPacketLoss = 0.01
	defaultLatencyMS  = 100.0
)

// AnomalyImpact scales the weighted health score by the reported fault.
var AnomalyImpact = map[string]float64{
	"none":              1.0,
	"overload":          0.2,
	"silence":           0.0,
	"routing_loop":      0.1,
	"fibre_cut":         0.0,
	"drift":             0.6,
	"intermittent_loss": 0.4,
	"latency_spike":     0.7,
	"throughput_drop":   0.5,
	"offline":           0.0,
	"spike":             0.3,
}

// HealthProfile holds the per-tier reference values of the 0-100 health
// score. A metric at its reference value scores 0.
type HealthProfile struct {
	CPULoad     float64 `yaml:"cpu_load"`
	PacketLoss  float64 `yaml:"packet_loss"`
	LatencyMS   float64 `yaml:"latency_ms"`
	CPUWeight   float64 `yaml:"cpu_weight"`
	LossWeight  float64 `yaml:"loss_weight"`
	LatWeight   float64 `yaml:"latency_weight"`
	Criticality float64 `yaml:"criticality"`
}

// DefaultHealthProfiles returns the reference values per tier. Cloud nodes
// are held to the tightest values and weigh the most.
func DefaultHealthProfiles() map[models.Tier]HealthProfile {
	return map[models.Tier]HealthProfile{
		models.TierCloud: {CPULoad: 70, PacketLoss: 0.01, LatencyMS: 100, CPUWeight: 0.4, LossWeight: 0.35, LatWeight: 0.25, Criticality: 1.5},
		models.TierFog:   {CPULoad: 75, PacketLoss: 0.02, LatencyMS: 120, CPUWeight: 0.35, LossWeight: 0.4, LatWeight: 0.25, Criticality: 1.3},
		models.TierEdge:  {CPULoad: 80, PacketLoss: 0.03, LatencyMS: 150, CPUWeight: 0.3, LossWeight: 0.4, LatWeight: 0.3, Criticality: 1.1},
	}
}

// Validate checks that reference values are positive.
func (p HealthProfile) Validate() error {
	if p.CPULoad <= 0 || p.PacketLoss <= 0 || p.LatencyMS <= 0 {
		return fmt.Errorf("health reference values must be positive: %+v", p)
	}
	if p.CPUWeight < 0 || p.LossWeight < 0 || p.LatWeight < 0 {
		return fmt.Errorf("health weights must not be negative: %+v", p)
	}
	return nil
}

// HealthSample is the health assessment of one reading.
type HealthSample struct {
	Timestamp  time.Time `json:"timestamp"`
	CPU        float64   `json:"cpu_subscore"`
	PacketLoss float64   `json:"packet_loss_subscore"`
	Latency    float64   `json:"latency_subscore"`
	Score      float64   `json:"score"`
	Threshold  float64   `json:"threshold"`
	Anomaly    string    `json:"anomaly,omitempty"`
}

// Assess scores a reading against p. The threshold drops by
// AnomalyAdjustment when the reading carries a fault label, or, without a
// label, when its verdict is an alert.
func Assess(r models.MetricReading, p HealthProfile, v models.Verdict) HealthSample {
	metric := func(name string, def float64) float64 {
		if val, ok := r.Metrics[name]; ok {
			return val
		}
		return def
	}
	h := HealthSample{
		Timestamp:  r.Timestamp,
		CPU:        subscore(metric(alerts.MetricCPULoad, defaultCPULoad), p.CPULoad),
		PacketLoss: subscore(metric(alerts.MetricPacketLoss, defaultPacketLoss), p.PacketLoss),
		Latency:    subscore(metric(alerts.MetricLatencyMS, defaultLatencyMS), p.LatencyMS),
		Anomaly:    r.Anomaly,
	}

	impact := 1.0
	anomalous := v.IsAlert()
	if r.Anomaly != "" {
		var ok bool
		if impact, ok = AnomalyImpact[r.Anomaly]; !ok {
			impact = UnknownAnomalyImpact
		}
		anomalous = r.Anomaly != "none"
	}

	weighted := h.CPU*p.CPUWeight + h.PacketLoss*p.LossWeight + h.Latency*p.LatWeight
	h.Score = clamp(weighted*impact, 0, 100)

	threshold := BaseHealthThreshold + p.Criticality*10
	if anomalous {
		threshold += AnomalyAdjustment
	}
	h.Threshold = clamp(threshold, MinHealthThreshold, MaxHealthThreshold)
	return h
}

func subscore(value, reference float64) float64 {
	return clamp(100-value/reference*100, 0, 100)
}

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }
