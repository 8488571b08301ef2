// Package engine runs monitoring cycles over a fog topology: it evaluates
// readings tier by tier, rolls node health up into scope summaries, and
// hands verdicts and summaries to the dispatch router.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fogpulse/internal/aggregate"
	"fogpulse/internal/alerts"
	"fogpulse/internal/dispatch"
	"fogpulse/internal/logger"
	"fogpulse/internal/metrics"
	"fogpulse/internal/models"
	"fogpulse/internal/state"
	"fogpulse/internal/topology"
)

// EvaluateFunc turns a reading into a verdict under a rule set.
type EvaluateFunc func(models.MetricReading, alerts.RuleSet) (models.Verdict, error)

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEvaluator replaces alerts.Evaluate.
func WithEvaluator(fn EvaluateFunc) Option {
	return func(e *Engine) { e.evaluate = fn }
}

// Engine drives monitoring cycles. RunCycle calls are serialized.
type Engine struct {
	cfg      Config
	topo     *topology.Topology
	router   *dispatch.Router
	now      func() time.Time
	evaluate EvaluateFunc

	// states is built once and never resized; each entry is touched by one
	// evaluation task per cycle.
	states map[string]*state.NodeState

	cycleMu sync.Mutex
	seq     uint64

	snapMu   sync.RWMutex
	latest   map[string]models.TierSummary
	snapshot Snapshot
}

// New creates an engine for topo. The configuration is validated once and
// is immutable afterwards.
func New(cfg Config, topo *topology.Topology, router *dispatch.Router, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if cfg.Health == nil {
		cfg.Health = state.DefaultHealthProfiles()
	}
	if topo == nil || topo.Len() == 0 {
		return nil, topology.ErrEmptyTopology
	}
	if router == nil {
		return nil, errors.New("engine requires a router")
	}

	e := &Engine{
		cfg:      cfg,
		topo:     topo,
		router:   router,
		now:      time.Now,
		evaluate: alerts.Evaluate,
		states:   make(map[string]*state.NodeState, topo.Len()),
		latest:   make(map[string]models.TierSummary),
	}
	for _, node := range topo.Nodes() {
		e.states[node.ID] = state.NewNodeState(node, cfg.RingSize, cfg.EMABeta)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes a cycle immediately and then every CycleInterval until ctx
// is done. Cycle errors are logged; Run returns nil on cancellation.
func (e *Engine) Run(ctx context.Context, src Source) error {
	log := logger.WithComponent("engine")
	log.Info().
		Dur("interval", e.cfg.CycleInterval).
		Int("nodes", e.topo.Len()).
		Int("workers", e.cfg.Workers).
		Msg("engine started")
	defer log.Info().Msg("engine stopped")

	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		if _, err := e.RunCycle(ctx, src); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("cycle failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// pending collects the accepted readings of one node in arrival order and
// the results of evaluating them. Each entry is owned by one task.
type pending struct {
	readings []models.MetricReading
	verdicts []models.Verdict
	health   []state.HealthSample
	rejected []error
}

// RunCycle executes one cycle. Readings are pulled from src and validated;
// invalid ones are recorded and skipped. Tiers are then processed bottom-up:
// evaluate the tier's nodes concurrently, dispatch their alerts in node
// order, aggregate the tier's scopes, and dispatch the summaries. If ctx is
// cancelled the cycle stops at the next tier boundary and no summary of the
// interrupted tier is dispatched.
func (e *Engine) RunCycle(ctx context.Context, src Source) (CycleReport, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	e.seq++
	cycle := models.NewCycle(e.seq, e.now())
	log := logger.WithCycle("engine", cycle.Seq)
	e.router.BeginCycle(cycle.Seq)

	report := CycleReport{Cycle: cycle.Seq, StartedAt: cycle.StartedAt}
	start := time.Now()

	finish := func(err error) (CycleReport, error) {
		report.Duration = time.Since(start)
		metrics.CycleDuration.Observe(report.Duration.Seconds())
		if err != nil {
			report.Aborted = true
			metrics.CyclesTotal.WithLabelValues("aborted").Inc()
			log.Warn().Err(err).Msg("cycle aborted")
		} else {
			metrics.CyclesTotal.WithLabelValues("completed").Inc()
			log.Info().
				Int("accepted", report.ReadingsAccepted).
				Int("rejected", report.ReadingsRejected).
				Int("alerts", report.AlertsDispatched).
				Int("partial", len(report.PartialScopes)).
				Dur("duration", report.Duration).
				Msg("cycle completed")
		}
		e.publish(report)
		return report, err
	}

	work := e.ingest(ctx, cycle, src, &report, log)
	if err := ctx.Err(); err != nil {
		return finish(err)
	}

	for _, tier := range models.Tiers {
		if err := e.evaluateTier(ctx, cycle, tier, work, &report, log); err != nil {
			return finish(err)
		}
		e.dispatchVerdicts(ctx, cycle, tier, work, &report)

		summaries := e.aggregateTier(cycle, tier, &report, log)
		// All-or-nothing: a cancelled cycle dispatches none of this tier's
		// summaries.
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		for _, s := range summaries {
			e.router.Dispatch(ctx, cycle.Seq, dispatch.FromSummary(s))
			report.Summaries = append(report.Summaries, s)
			e.remember(s)
		}
	}

	return finish(nil)
}

// ingest drains src and keeps the readings that pass validation.
func (e *Engine) ingest(ctx context.Context, cycle models.Cycle, src Source, report *CycleReport, log zerolog.Logger) map[string]*pending {
	work := make(map[string]*pending)
	last := make(map[string]time.Time)

	reject := func(err error) {
		report.ReadingsRejected++
		report.Errors = append(report.Errors, err)
		metrics.ReadingsTotal.WithLabelValues("rejected").Inc()
		metrics.ReadingsRejected.WithLabelValues(rejectReason(err)).Inc()
		log.Warn().Err(err).Msg("reading rejected")
	}

	for r := range src.Readings(ctx, cycle) {
		if ctx.Err() != nil {
			break
		}
		r.Normalize()
		if err := r.Validate(); err != nil {
			reject(err)
			continue
		}
		st, ok := e.states[r.NodeID]
		if !ok {
			reject(&models.InvalidReadingError{NodeID: r.NodeID, Reason: models.ErrUnknownNode})
			continue
		}
		prev, seen := last[r.NodeID]
		if !seen {
			prev = st.LastTimestamp()
		}
		if !prev.IsZero() && r.Timestamp.Before(prev) {
			reject(&models.InvalidReadingError{NodeID: r.NodeID, Reason: models.ErrOutOfOrder})
			continue
		}
		last[r.NodeID] = r.Timestamp

		p := work[r.NodeID]
		if p == nil {
			p = &pending{}
			work[r.NodeID] = p
		}
		p.readings = append(p.readings, r)
		report.ReadingsAccepted++
	}
	return work
}

// evaluateTier runs one task per reporting node of tier and waits for all
// of them. It returns an error only when ctx is cancelled.
func (e *Engine) evaluateTier(ctx context.Context, cycle models.Cycle, tier models.Tier, work map[string]*pending, report *CycleReport, log zerolog.Logger) error {
	rules := e.cfg.Rules.ForTier(tier)
	now := e.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for _, id := range e.topo.Tier(tier) {
		p := work[id]
		if p == nil {
			continue
		}
		st := e.states[id]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e.evaluateNode(gctx, cycle, tier, st, p, rules, now, log)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Merge per-node results after the barrier so tasks share nothing.
	for _, id := range e.topo.Tier(tier) {
		p := work[id]
		if p == nil {
			continue
		}
		report.Verdicts += len(p.verdicts)
		metrics.ReadingsTotal.WithLabelValues("accepted").Add(float64(len(p.verdicts)))
		for _, err := range p.rejected {
			report.ReadingsAccepted--
			report.ReadingsRejected++
			report.Errors = append(report.Errors, err)
			metrics.ReadingsTotal.WithLabelValues("rejected").Inc()
			metrics.ReadingsRejected.WithLabelValues(rejectReason(err)).Inc()
		}
	}
	return nil
}

// evaluateNode applies every reading of one node in order. A panic discards
// the node's verdicts for this cycle, so its parent sees it as missing.
func (e *Engine) evaluateNode(ctx context.Context, cycle models.Cycle, tier models.Tier, st *state.NodeState, p *pending, rules alerts.RuleSet, now time.Time, log zerolog.Logger) {
	nodeID := st.Node().ID
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("node_id", nodeID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("evaluation panic recovered")
			metrics.PanicsRecovered.WithLabelValues("engine").Inc()
			p.verdicts = nil
			p.health = nil
		}
	}()

	profile := e.cfg.Health[tier]

	for _, r := range p.readings {
		if ctx.Err() != nil {
			return
		}
		v, err := e.evaluate(r, rules)
		if err != nil {
			log.Warn().Err(err).Str("node_id", nodeID).Msg("reading rejected")
			p.rejected = append(p.rejected, err)
			continue
		}
		v.Tier = tier
		p.verdicts = append(p.verdicts, v)
		p.health = append(p.health, state.Assess(r, profile, v))
	}

	for i, v := range p.verdicts {
		st.Apply(v, cycle.Seq, now)
		st.ApplyHealth(p.health[i])
		metrics.VerdictsTotal.WithLabelValues(tier.String(), v.Severity.String()).Inc()
	}
}

// dispatchVerdicts sends the tier's alert verdicts in node id order, then
// reading order.
func (e *Engine) dispatchVerdicts(ctx context.Context, cycle models.Cycle, tier models.Tier, work map[string]*pending, report *CycleReport) {
	for _, id := range e.topo.Tier(tier) {
		p := work[id]
		if p == nil {
			continue
		}
		for _, v := range p.verdicts {
			if !v.IsAlert() {
				continue
			}
			e.router.Dispatch(ctx, cycle.Seq, dispatch.FromVerdict(v))
			report.AlertsDispatched++
		}
	}
}

// aggregateTier builds the summaries of the tier's scopes in id order.
func (e *Engine) aggregateTier(cycle models.Cycle, tier models.Tier, report *CycleReport, log zerolog.Logger) []models.TierSummary {
	scopes := e.topo.Scopes(tier)
	summaries := make([]models.TierSummary, 0, len(scopes))

	for _, id := range scopes {
		scope, _ := e.topo.Node(id)
		contributions := make(map[string]aggregate.Contribution, len(scope.Children)+1)
		escalations := 0

		for _, env := range e.router.Drain(cycle.Seq, id) {
			switch env.Kind {
			case models.KindSummary:
				contributions[env.OriginID] = aggregate.FromSummary(*env.Summary)
			case models.KindVerdict:
				escalations++
			}
		}

		if st := e.states[id]; st.ReportedIn(cycle.Seq) {
			contributions[id] = aggregate.FromNode(id, st.DampedStatus(e.cfg.FlapWindow), st.ScoreEMA())
		}
		for _, child := range scope.Children {
			if _, ok := contributions[child]; ok {
				continue
			}
			if st := e.states[child]; st.ReportedIn(cycle.Seq) && !st.Node().IsScope() {
				contributions[child] = aggregate.FromNode(child, st.DampedStatus(e.cfg.FlapWindow), st.ScoreEMA())
			}
		}

		summary, err := aggregate.Aggregate(cycle, scope, contributions, escalations)
		var incomplete *models.IncompleteTopologyError
		if errors.As(err, &incomplete) {
			report.PartialScopes = append(report.PartialScopes, id)
			report.Errors = append(report.Errors, err)
			metrics.PartialSummariesTotal.WithLabelValues(tier.String()).Inc()
			log.Warn().
				Str("scope_id", id).
				Strs("missing", incomplete.Missing).
				Msg("partial summary")
		}

		metrics.SummariesTotal.WithLabelValues(tier.String(), summary.Status.String()).Inc()
		summaries = append(summaries, summary)
	}
	return summaries
}

func (e *Engine) remember(s models.TierSummary) {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	e.latest[s.ScopeID] = s
}

// publish refreshes the snapshot at the end of a cycle. Node states are
// read here, after every evaluation task of the cycle has finished.
func (e *Engine) publish(report CycleReport) {
	nodes := make([]state.Snapshot, 0, len(e.states))
	for _, node := range e.topo.Nodes() {
		nodes = append(nodes, e.states[node.ID].Snapshot(e.cfg.FlapWindow))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })

	e.snapMu.Lock()
	defer e.snapMu.Unlock()

	summaries := make([]models.TierSummary, 0, len(e.latest))
	for _, s := range e.latest {
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ScopeID < summaries[j].ScopeID })

	e.snapshot = Snapshot{
		Cycle:     report.Cycle,
		Report:    report,
		Summaries: summaries,
		Nodes:     nodes,
	}
}

// Snapshot returns the view published at the end of the latest cycle.
func (e *Engine) Snapshot() Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()

	s := e.snapshot
	s.Summaries = append([]models.TierSummary(nil), s.Summaries...)
	s.Nodes = append([]state.Snapshot(nil), s.Nodes...)
	s.Report.Summaries = append([]models.TierSummary(nil), s.Report.Summaries...)
	return s
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, models.ErrUnknownNode):
		return "unknown_node"
	case errors.Is(err, models.ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, models.ErrNoRecognized):
		return "no_recognized_metrics"
	case errors.Is(err, models.ErrNonFiniteValue):
		return "non_finite"
	default:
		return "malformed"
	}
}
