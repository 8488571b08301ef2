package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"fogpulse/internal/logger"
	"fogpulse/internal/metrics"
	"fogpulse/internal/models"
)

var (
	ErrRouterClosed      = errors.New("router closed")
	ErrDuplicateSubID    = errors.New("subscriber already registered")
	ErrUnknownSubscriber = errors.New("unknown subscriber")
)

// Status is the outcome of routing one envelope to one destination.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusFiltered  Status = "filtered"
	StatusDropped   Status = "dropped"
	StatusDuplicate Status = "duplicate"
	StatusUpstream  Status = "upstream"
)

// Receipt reports what happened to one destination of a dispatch.
type Receipt struct {
	EnvelopeID  string              `json:"envelope_id"`
	Kind        models.EnvelopeKind `json:"kind"`
	OriginID    string              `json:"origin_id"`
	Destination string              `json:"destination"`
	Status      Status              `json:"status"`
}

// Source is the payload handed to Dispatch: one verdict or one summary.
type Source struct {
	verdict *models.Verdict
	summary *models.TierSummary
}

// FromVerdict wraps a verdict for dispatch.
func FromVerdict(v models.Verdict) Source { return Source{verdict: &v} }

// FromSummary wraps a tier summary for dispatch.
func FromSummary(s models.TierSummary) Source { return Source{summary: &s} }

func (s Source) envelope(cycle uint64) *models.AlertEnvelope {
	if s.verdict != nil {
		return models.NewVerdictEnvelope(*s.verdict, cycle)
	}
	if s.summary != nil {
		return models.NewSummaryEnvelope(*s.summary, cycle)
	}
	return nil
}

// ParentLookup resolves the parent scope of a node.
type ParentLookup interface {
	Parent(id string) (models.Node, bool)
}

// Router delivers envelopes upward into parent inboxes and outward to
// subscribers. Each payload reaches each destination at most once per cycle.
type Router struct {
	cfg     Config
	parents ParentLookup

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	cycle  uint64
	inbox  map[string][]*models.AlertEnvelope
	seen   map[string]struct{}
	subs   map[string]*subscription
}

// NewRouter creates a router. parents may be nil when upward routing is not
// needed.
func NewRouter(cfg Config, parents ParentLookup) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		cfg:     cfg,
		parents: parents,
		ctx:     ctx,
		cancel:  cancel,
		inbox:   make(map[string][]*models.AlertEnvelope),
		seen:    make(map[string]struct{}),
		subs:    make(map[string]*subscription),
	}, nil
}

// Register adds a subscriber and starts its delivery worker.
func (r *Router) Register(sub Subscriber, filter Filter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRouterClosed
	}
	if _, ok := r.subs[sub.ID()]; ok {
		return ErrDuplicateSubID
	}

	s := newSubscription(sub, filter, r.cfg)
	r.subs[sub.ID()] = s
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		s.run(r.ctx)
	}()

	log := logger.WithComponent("dispatch")
	log.Info().
		Str("subscriber", sub.ID()).
		Str("min_severity", filter.MinSeverity.String()).
		Int("tiers", len(filter.Tiers)).
		Msg("subscriber registered")
	return nil
}

// Unregister removes a subscriber. Queued envelopes are still delivered.
func (r *Router) Unregister(id string) error {
	r.mu.Lock()
	s, ok := r.subs[id]
	delete(r.subs, id)
	r.mu.Unlock()

	if !ok {
		return ErrUnknownSubscriber
	}
	s.close()
	metrics.QueueDepth.DeleteLabelValues(id)
	log := logger.WithComponent("dispatch")
	log.Info().Str("subscriber", id).Msg("subscriber unregistered")
	return nil
}

// BeginCycle discards inboxes and dedup state of earlier cycles.
func (r *Router) BeginCycle(cycle uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance(cycle)
}

func (r *Router) advance(cycle uint64) {
	if cycle == r.cycle {
		return
	}
	r.cycle = cycle
	clear(r.inbox)
	clear(r.seen)
}

// Dispatch routes src for cycle and returns one receipt per destination.
// Normal verdicts are not routed. Delivery happens asynchronously; failures
// are logged and counted, never returned.
func (r *Router) Dispatch(ctx context.Context, cycle uint64, src Source) []Receipt {
	base := src.envelope(cycle)
	if base == nil || (base.Kind == models.KindVerdict && !base.Verdict.IsAlert()) {
		return nil
	}

	type target struct {
		sub *subscription
		env *models.AlertEnvelope
	}

	var (
		receipts []Receipt
		targets  []target
	)
	record := func(env *models.AlertEnvelope, dest string, status Status) {
		receipts = append(receipts, Receipt{
			EnvelopeID:  env.ID,
			Kind:        env.Kind,
			OriginID:    env.OriginID,
			Destination: dest,
			Status:      status,
		})
	}

	r.mu.Lock()
	if r.closed || cycle < r.cycle {
		r.mu.Unlock()
		record(base, "", StatusDropped)
		r.count(receipts)
		return receipts
	}
	r.advance(cycle)

	dedup := base.DedupKey()

	if r.parents != nil {
		if parent, ok := r.parents.Parent(base.OriginID); ok {
			key := parent.ID + "|" + dedup
			env := base.To(parent.ID, parent.Tier)
			if _, dup := r.seen[key]; dup {
				record(env, parent.ID, StatusDuplicate)
			} else {
				r.seen[key] = struct{}{}
				r.inbox[parent.ID] = append(r.inbox[parent.ID], env)
				record(env, parent.ID, StatusUpstream)
			}
		}
	}

	ids := make([]string, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		s := r.subs[id]
		env := r.copyFor(base, id)
		if !s.filter.Accepts(env) {
			record(env, id, StatusFiltered)
			continue
		}
		key := "sub:" + id + "|" + dedup
		if _, dup := r.seen[key]; dup {
			record(env, id, StatusDuplicate)
			continue
		}
		r.seen[key] = struct{}{}
		targets = append(targets, target{sub: s, env: env})
	}
	r.mu.Unlock()

	// Enqueue outside the lock so a blocking queue does not stall
	// registration.
	for _, t := range targets {
		if t.sub.enqueue(ctx, t.env) {
			record(t.env, t.sub.sub.ID(), StatusQueued)
		} else {
			record(t.env, t.sub.sub.ID(), StatusDropped)
		}
	}

	r.count(receipts)
	return receipts
}

func (r *Router) copyFor(base *models.AlertEnvelope, dest string) *models.AlertEnvelope {
	env := *base
	env.ID = uuid.NewString()
	env.Destination = dest
	env.DestinationTier = 0
	return &env
}

func (r *Router) count(receipts []Receipt) {
	for _, rc := range receipts {
		metrics.DispatchReceipts.WithLabelValues(string(rc.Kind), string(rc.Status)).Inc()
	}
}

// Drain hands nodeID the envelopes routed to it during cycle and empties its
// inbox. Envelopes of other cycles are never returned.
func (r *Router) Drain(cycle uint64, nodeID string) []*models.AlertEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cycle != r.cycle {
		return nil
	}
	envs := r.inbox[nodeID]
	delete(r.inbox, nodeID)
	return envs
}

// Stats returns per-subscriber counters sorted by id.
func (r *Router) Stats() []SubscriberStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make([]SubscriberStats, 0, len(r.subs))
	for _, s := range r.subs {
		stats = append(stats, s.stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].ID < stats[j].ID })
	return stats
}

// Close stops accepting envelopes and waits for queued deliveries until ctx
// expires, then cancels the remaining workers.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	log := logger.WithComponent("dispatch")
	log.Info().Int("subscribers", len(subs)).Msg("closing router")

	for _, s := range subs {
		s.close()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		log.Info().Msg("router closed")
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		log.Warn().Msg("router closed before queues drained")
		return ctx.Err()
	}
}
