// Package simulate generates synthetic readings for a topology, with tier
// specific baselines and randomly injected faults.
package simulate

import (
	"context"
	"iter"
	"math"
	"math/rand"
	"sync"

	"fogpulse/internal/alerts"
	"fogpulse/internal/logger"
	"fogpulse/internal/models"
)

// Anomaly names a fault the generator can inject.
type Anomaly string

const (
	AnomalyNone             Anomaly = "none"
	AnomalyOverload         Anomaly = "overload"
	AnomalySilence          Anomaly = "silence"
	AnomalySpike            Anomaly = "spike"
	AnomalyDrift            Anomaly = "drift"
	AnomalyLatencySpike     Anomaly = "latency_spike"
	AnomalyIntermittentLoss Anomaly = "intermittent_loss"
	AnomalyRoutingLoop      Anomaly = "routing_loop"
	AnomalyThroughputDrop   Anomaly = "throughput_drop"
)

// profile is the baseline behaviour of one tier.
type profile struct {
	cpuBase, cpuNoise, cpuMin, cpuMax float64
	lossBase, lossScale, lossMax      float64
	latBase, latNoise, latMin, latMax float64
	cpuTrend, lossTrend, latTrend     float64
	anomalies                         []Anomaly
}

// Cloud nodes are the most stable and edge nodes the noisiest.
var profiles = map[models.Tier]profile{
	models.TierCloud: {
		cpuBase: 30, cpuNoise: 7, cpuMin: 5, cpuMax: 85,
		lossBase: 0.001, lossScale: 0.03, lossMax: 0.03,
		latBase: 70, latNoise: 8, latMin: 25, latMax: 120,
		cpuTrend: 0.1, lossTrend: 0.0001, latTrend: 0.2,
		anomalies: []Anomaly{AnomalyOverload, AnomalySilence, AnomalyRoutingLoop},
	},
	models.TierFog: {
		cpuBase: 45, cpuNoise: 10, cpuMin: 10, cpuMax: 95,
		lossBase: 0.002, lossScale: 0.06, lossMax: 0.06,
		latBase: 85, latNoise: 12, latMin: 30, latMax: 160,
		cpuTrend: 0.15, lossTrend: 0.0002, latTrend: 0.3,
		anomalies: []Anomaly{AnomalyDrift, AnomalyOverload, AnomalyIntermittentLoss, AnomalySilence},
	},
	models.TierEdge: {
		cpuBase: 50, cpuNoise: 15, cpuMin: 5, cpuMax: 100,
		lossBase: 0.005, lossScale: 0.15, lossMax: 0.15,
		latBase: 120, latNoise: 30, latMin: 50, latMax: 300,
		cpuTrend: 0.3, lossTrend: 0.0005, latTrend: 0.8,
		anomalies: []Anomaly{AnomalySpike, AnomalyDrift, AnomalySilence, AnomalyOverload, AnomalyLatencySpike, AnomalyThroughputDrop},
	},
}

// Config controls the generator.
type Config struct {
	Seed      int64
	FaultRate float64
}

// nodeGen is the per-node random state. Each node has its own source so
// adding a node does not change the readings of the others.
type nodeGen struct {
	node   models.Node
	rng    *rand.Rand
	prof   profile
	trends [3]float64
	step   int
}

// Generator produces one reading per node per cycle.
type Generator struct {
	mu        sync.Mutex
	nodes     []*nodeGen
	faultRate float64
	last      map[string]Anomaly
}

// New creates a generator for nodes, which are emitted in the given order.
func New(nodes []models.Node, cfg Config) *Generator {
	g := &Generator{faultRate: cfg.FaultRate, last: make(map[string]Anomaly, len(nodes))}
	for i, node := range nodes {
		prof, ok := profiles[node.Tier]
		if !ok {
			prof = profiles[models.TierEdge]
		}
		rng := rand.New(rand.NewSource(cfg.Seed + int64(i+1)*31))
		ng := &nodeGen{node: node, rng: rng, prof: prof}
		ng.trends = [3]float64{
			uniform(rng, -prof.cpuTrend, prof.cpuTrend),
			uniform(rng, -prof.lossTrend, prof.lossTrend),
			uniform(rng, -prof.latTrend, prof.latTrend),
		}
		g.nodes = append(g.nodes, ng)
	}
	return g
}

// Readings generates the readings of one cycle, stamped with the cycle
// start. Silenced nodes emit nothing.
func (g *Generator) Readings(ctx context.Context, cycle models.Cycle) iter.Seq[models.MetricReading] {
	g.mu.Lock()
	batch := make([]models.MetricReading, 0, len(g.nodes))
	for _, ng := range g.nodes {
		m, anomaly := ng.next(g.faultRate)
		g.last[ng.node.ID] = anomaly
		if anomaly != AnomalyNone {
			log := logger.WithCycle("simulate", cycle.Seq)
			log.Debug().
				Str("node_id", ng.node.ID).
				Str("anomaly", string(anomaly)).
				Msg("fault injected")
		}
		if m == nil {
			continue
		}
		batch = append(batch, models.MetricReading{
			NodeID:    ng.node.ID,
			Timestamp: cycle.StartedAt,
			Metrics:   m,
			Anomaly:   string(anomaly),
		})
	}
	g.mu.Unlock()

	return func(yield func(models.MetricReading) bool) {
		for _, r := range batch {
			if ctx.Err() != nil || !yield(r) {
				return
			}
		}
	}
}

// LastAnomaly returns the fault injected into nodeID in the latest cycle.
func (g *Generator) LastAnomaly(nodeID string) Anomaly {
	g.mu.Lock()
	defer g.mu.Unlock()
	if a, ok := g.last[nodeID]; ok {
		return a
	}
	return AnomalyNone
}

// next advances the node by one step. A nil map means the node is silent.
func (n *nodeGen) next(faultRate float64) (map[string]float64, Anomaly) {
	p, r := n.prof, n.rng
	t := float64(n.step)
	n.step++

	cpu := p.cpuBase + n.trends[0]*t + 5*math.Sin(t*0.1) + r.NormFloat64()*p.cpuNoise
	loss := p.lossBase + n.trends[1]*t + r.Float64()*r.Float64()*p.lossScale*0.2
	lat := p.latBase + n.trends[2]*t + 10*math.Sin(t*0.15) + r.NormFloat64()*p.latNoise

	cpu = clamp(cpu, p.cpuMin, p.cpuMax)
	loss = clamp(loss, 0, p.lossMax)
	lat = clamp(lat, p.latMin, p.latMax)

	anomaly := AnomalyNone
	if r.Float64() < faultRate {
		anomaly = p.anomalies[r.Intn(len(p.anomalies))]
		switch anomaly {
		case AnomalyOverload:
			cpu, loss, lat = 100, 0.2, 400
		case AnomalySilence:
			return nil, anomaly
		case AnomalyRoutingLoop:
			loss, lat = 0.5, 999
		case AnomalyDrift:
			cpu = math.Min(cpu+t*0.3, 100)
			loss = math.Min(loss+t*0.001, 1)
		case AnomalyIntermittentLoss:
			if r.Intn(2) == 0 {
				loss, lat = 0.8, 500
			}
		case AnomalySpike:
			cpu = math.Min(cpu+uniform(r, 30, 50), 100)
			lat = math.Min(lat+uniform(r, 80, 140), 300)
		case AnomalyLatencySpike:
			lat = math.Min(lat+uniform(r, 100, 150), 300)
		case AnomalyThroughputDrop:
			cpu = math.Max(cpu-uniform(r, 10, 25), 0)
			loss = math.Min(loss+uniform(r, 0.04, 0.15), 1)
		}
	}

	return map[string]float64{
		alerts.MetricCPULoad:    round(cpu, 2),
		alerts.MetricPacketLoss: round(loss, 4),
		alerts.MetricLatencyMS:  round(lat, 2),
	}, anomaly
}

func uniform(r *rand.Rand, lo, hi float64) float64 { return lo + r.Float64()*(hi-lo) }

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
