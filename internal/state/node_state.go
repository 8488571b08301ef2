package state

import (
	"time"

	"fogpulse/internal/models"
)

// Defaults for NodeState.
const (
	DefaultRingSize   = 16
	DefaultFlapWindow = 2
	DefaultEMABeta    = 0.3
)

// NodeState is the rolling health record of one node. It is owned by the
// engine and mutated by exactly one evaluation task per cycle, so it carries
// no lock; readers outside the engine use Snapshot copies.
type NodeState struct {
	node models.Node

	ring []models.Verdict
	head int // next write position
	size int

	current       models.Severity
	lastUpdated   time.Time
	lastTimestamp time.Time
	lastCycle     uint64
	reported      bool

	beta      float64
	scoreEMA  float64
	emaSeeded bool

	health       []HealthSample
	healthHead   int
	healthSize   int
	healthEMA    float64
	threshEMA    float64
	healthSeeded bool
}

// NewNodeState creates an empty record holding up to ringSize verdicts.
func NewNodeState(node models.Node, ringSize int, beta float64) *NodeState {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	if beta <= 0 || beta > 1 {
		beta = DefaultEMABeta
	}
	return &NodeState{
		node: node,
		ring:   make([]models.Verdict, ringSize),
		health: make([]HealthSample, ringSize),
		beta:   beta,
	}
}

// Apply records a verdict produced during cycle.
func (s *NodeState) Apply(v models.Verdict, cycle uint64, now time.Time) {
	s.ring[s.head] = v
	s.head = (s.head + 1) % len(s.ring)
	if s.size < len(s.ring) {
		s.size++
	}

	s.current = v.Severity
	s.lastUpdated = now
	s.lastTimestamp = v.Timestamp
	s.lastCycle = cycle
	s.reported = true

	if !s.emaSeeded {
		s.scoreEMA = v.Score
		s.emaSeeded = true
	} else {
		s.scoreEMA = s.beta*v.Score + (1-s.beta)*s.scoreEMA
	}
}

// ApplyHealth records the health assessment of the reading behind the
// latest verdict and smooths score and threshold with the same beta.
func (s *NodeState) ApplyHealth(h HealthSample) {
	s.health[s.healthHead] = h
	s.healthHead = (s.healthHead + 1) % len(s.health)
	if s.healthSize < len(s.health) {
		s.healthSize++
	}

	if !s.healthSeeded {
		s.healthEMA, s.threshEMA = h.Score, h.Threshold
		s.healthSeeded = true
		return
	}
	s.healthEMA = s.beta*h.Score + (1-s.beta)*s.healthEMA
	s.threshEMA = s.beta*h.Threshold + (1-s.beta)*s.threshEMA
}

// HealthStatus is the smoothed score minus the smoothed threshold. A
// negative margin means the node is below the health expected of it.
func (s *NodeState) HealthStatus() float64 { return s.healthEMA - s.threshEMA }

// HealthHistory returns the buffered health samples, oldest first.
func (s *NodeState) HealthHistory() []HealthSample {
	out := make([]HealthSample, 0, s.healthSize)
	start := (s.healthHead - s.healthSize + len(s.health)) % len(s.health)
	for i := 0; i < s.healthSize; i++ {
		out = append(out, s.health[(start+i)%len(s.health)])
	}
	return out
}

// Recent returns the buffered verdicts, oldest first.
func (s *NodeState) Recent() []models.Verdict {
	out := make([]models.Verdict, 0, s.size)
	start := (s.head - s.size + len(s.ring)) % len(s.ring)
	for i := 0; i < s.size; i++ {
		out = append(out, s.ring[(start+i)%len(s.ring)])
	}
	return out
}

// Current returns the severity of the latest verdict.
func (s *NodeState) Current() models.Severity { return s.current }

// DampedStatus is the status used for aggregation. A node counts as
// Critical only after k consecutive Critical verdicts; a shorter Critical
// run is reported as Warning.
func (s *NodeState) DampedStatus(k int) models.Severity {
	if s.current != models.SeverityCritical {
		return s.current
	}
	if k <= 1 {
		return models.SeverityCritical
	}
	if s.consecutive(models.SeverityCritical) >= k {
		return models.SeverityCritical
	}
	return models.SeverityWarning
}

// consecutive counts the trailing verdicts of severity sev.
func (s *NodeState) consecutive(sev models.Severity) int {
	n := 0
	for i := 1; i <= s.size; i++ {
		idx := (s.head - i + len(s.ring)) % len(s.ring)
		if s.ring[idx].Severity != sev {
			break
		}
		n++
	}
	return n
}

// ReportedIn reports whether the node produced a verdict during cycle.
func (s *NodeState) ReportedIn(cycle uint64) bool {
	return s.reported && s.lastCycle == cycle
}

// LastTimestamp is the reading timestamp of the latest verdict.
func (s *NodeState) LastTimestamp() time.Time { return s.lastTimestamp }

// ScoreEMA is the exponentially smoothed anomaly score.
func (s *NodeState) ScoreEMA() float64 { return s.scoreEMA }

// Node returns the topology record the state belongs to.
func (s *NodeState) Node() models.Node { return s.node }

// Snapshot is an immutable copy of a NodeState for readers outside the engine.
type Snapshot struct {
	NodeID      string           `json:"node_id"`
	Tier        models.Tier      `json:"tier"`
	Current     models.Severity  `json:"current"`
	Damped      models.Severity  `json:"damped"`
	ScoreEMA    float64          `json:"score_ema"`
	LastUpdated time.Time        `json:"last_updated"`
	LastCycle   uint64           `json:"last_cycle"`
	Recent      []models.Verdict `json:"recent,omitempty"`

	Health *HealthView `json:"health,omitempty"`
}

// HealthView is the health score part of a Snapshot.
type HealthView struct {
	Score        float64        `json:"score"`
	Threshold    float64        `json:"threshold"`
	EMAScore     float64        `json:"ema_score"`
	EMAThreshold float64        `json:"ema_threshold"`
	Status       float64        `json:"status"`
	History      []HealthSample `json:"history,omitempty"`
}

// Snapshot copies the state, damping with window k.
func (s *NodeState) Snapshot(k int) Snapshot {
	return Snapshot{
		NodeID:      s.node.ID,
		Tier:        s.node.Tier,
		Current:     s.current,
		Damped:      s.DampedStatus(k),
		ScoreEMA:    s.scoreEMA,
		LastUpdated: s.lastUpdated,
		LastCycle:   s.lastCycle,
		Recent:      s.Recent(),
		Health:      s.healthView(),
	}
}

func (s *NodeState) healthView() *HealthView {
	if !s.healthSeeded {
		return nil
	}
	history := s.HealthHistory()
	latest := history[len(history)-1]
	return &HealthView{
		Score:        latest.Score,
		Threshold:    latest.Threshold,
		EMAScore:     s.healthEMA,
		EMAThreshold: s.threshEMA,
		Status:       s.HealthStatus(),
		History:      history,
	}
}
