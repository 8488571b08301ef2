package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fogpulse/internal/dispatch"
	"fogpulse/internal/models"
	"fogpulse/internal/topology"
)

var ts = time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

// MockSubscriber records deliveries and fails the first failFirst attempts.
type MockSubscriber struct {
	id        string
	failFirst int32
	attempts  atomic.Int32

	mu       sync.Mutex
	received []*models.AlertEnvelope
}

func (m *MockSubscriber) ID() string { return m.id }

func (m *MockSubscriber) Deliver(ctx context.Context, env *models.AlertEnvelope) error {
	if m.attempts.Add(1) <= m.failFirst {
		return errors.New("sink unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, env)
	return nil
}

func (m *MockSubscriber) Received() []*models.AlertEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AlertEnvelope(nil), m.received...)
}

// gatedSubscriber blocks every delivery until the gate is closed.
type gatedSubscriber struct {
	MockSubscriber
	started chan struct{}
	gate    chan struct{}
}

func newGated(id string) *gatedSubscriber {
	return &gatedSubscriber{
		MockSubscriber: MockSubscriber{id: id},
		started:        make(chan struct{}, 16),
		gate:           make(chan struct{}),
	}
}

func (g *gatedSubscriber) Deliver(ctx context.Context, env *models.AlertEnvelope) error {
	g.started <- struct{}{}
	<-g.gate
	return g.MockSubscriber.Deliver(ctx, env)
}

type panicSubscriber struct{}

func (panicSubscriber) ID() string { return "panicky" }
func (panicSubscriber) Deliver(context.Context, *models.AlertEnvelope) error {
	panic("boom")
}

func newRouter(t *testing.T, cfg dispatch.Config) *dispatch.Router {
	t.Helper()
	topo, err := topology.Build(topology.Simulated(1, 2))
	require.NoError(t, err)
	r, err := dispatch.NewRouter(cfg, topo)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

func fastConfig() dispatch.Config {
	cfg := dispatch.DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.DeliveryTimeout = 200 * time.Millisecond
	return cfg
}

func verdict(node string, sev models.Severity, offset int) models.Verdict {
	return models.Verdict{
		NodeID:    node,
		Tier:      models.TierEdge,
		Timestamp: ts.Add(time.Duration(offset) * time.Second),
		Severity:  sev,
	}
}

func statuses(receipts []dispatch.Receipt) map[string]dispatch.Status {
	out := make(map[string]dispatch.Status, len(receipts))
	for _, r := range receipts {
		out[r.Destination] = r.Status
	}
	return out
}

func TestDispatchVerdictUpstreamAndSubscribers(t *testing.T) {
	r := newRouter(t, fastConfig())
	sub := &MockSubscriber{id: "ops"}
	require.NoError(t, r.Register(sub, dispatch.Filter{MinSeverity: models.SeverityWarning}))

	receipts := r.Dispatch(context.Background(), 1, dispatch.FromVerdict(verdict("edge-01", models.SeverityCritical, 0)))
	assert.Equal(t, map[string]dispatch.Status{
		"fog-01": dispatch.StatusUpstream,
		"ops":    dispatch.StatusQueued,
	}, statuses(receipts))

	inbox := r.Drain(1, "fog-01")
	require.Len(t, inbox, 1)
	assert.Equal(t, "edge-01", inbox[0].OriginID)
	assert.Equal(t, models.TierFog, inbox[0].DestinationTier)
	assert.Empty(t, r.Drain(1, "fog-01"), "drain empties the inbox")

	require.Eventually(t, func() bool { return len(sub.Received()) == 1 }, time.Second, 5*time.Millisecond)
	got := sub.Received()[0]
	assert.Equal(t, models.KindVerdict, got.Kind)
	assert.Equal(t, "ops", got.Destination)
	assert.Equal(t, 1, got.Attempts)
}

func TestDispatchSkipsNormalVerdicts(t *testing.T) {
	r := newRouter(t, fastConfig())
	require.NoError(t, r.Register(&MockSubscriber{id: "all"}, dispatch.Filter{}))

	receipts := r.Dispatch(context.Background(), 1, dispatch.FromVerdict(verdict("edge-01", models.SeverityNormal, 0)))
	assert.Empty(t, receipts)
	assert.Empty(t, r.Drain(1, "fog-01"))
}

func TestMinSeverityFiltersNormalSummaries(t *testing.T) {
	r := newRouter(t, fastConfig())
	warn := &MockSubscriber{id: "warn"}
	all := &MockSubscriber{id: "all"}
	require.NoError(t, r.Register(warn, dispatch.Filter{MinSeverity: models.SeverityWarning}))
	require.NoError(t, r.Register(all, dispatch.Filter{}))

	normal := models.TierSummary{ScopeID: "fog-01", Tier: models.TierFog, Status: models.SeverityNormal}
	receipts := r.Dispatch(context.Background(), 1, dispatch.FromSummary(normal))
	assert.Equal(t, map[string]dispatch.Status{
		"cloud-01": dispatch.StatusUpstream,
		"warn":     dispatch.StatusFiltered,
		"all":      dispatch.StatusQueued,
	}, statuses(receipts))

	require.Eventually(t, func() bool { return len(all.Received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, warn.Received())
}

func TestTierFilter(t *testing.T) {
	r := newRouter(t, fastConfig())
	cloudOnly := &MockSubscriber{id: "cloud"}
	require.NoError(t, r.Register(cloudOnly, dispatch.Filter{Tiers: []models.Tier{models.TierCloud}}))

	receipts := r.Dispatch(context.Background(), 1, dispatch.FromVerdict(verdict("edge-02", models.SeverityWarning, 0)))
	assert.Equal(t, dispatch.StatusFiltered, statuses(receipts)["cloud"])

	root := models.TierSummary{ScopeID: "cloud-01", Tier: models.TierCloud, Status: models.SeverityWarning}
	receipts = r.Dispatch(context.Background(), 1, dispatch.FromSummary(root))
	assert.Equal(t, map[string]dispatch.Status{"cloud": dispatch.StatusQueued}, statuses(receipts))
}

func TestDispatchDeduplicatesWithinCycle(t *testing.T) {
	r := newRouter(t, fastConfig())
	sub := &MockSubscriber{id: "ops"}
	require.NoError(t, r.Register(sub, dispatch.Filter{}))

	v := verdict("edge-01", models.SeverityWarning, 0)
	r.Dispatch(context.Background(), 1, dispatch.FromVerdict(v))
	receipts := r.Dispatch(context.Background(), 1, dispatch.FromVerdict(v))
	assert.Equal(t, map[string]dispatch.Status{
		"fog-01": dispatch.StatusDuplicate,
		"ops":    dispatch.StatusDuplicate,
	}, statuses(receipts))

	receipts = r.Dispatch(context.Background(), 2, dispatch.FromVerdict(v))
	assert.Equal(t, dispatch.StatusQueued, statuses(receipts)["ops"])
	assert.Empty(t, r.Drain(1, "fog-01"), "earlier cycle inboxes are gone")
	assert.Len(t, r.Drain(2, "fog-01"), 1)

	require.Eventually(t, func() bool { return len(sub.Received()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestStaleCycleIsDropped(t *testing.T) {
	r := newRouter(t, fastConfig())
	r.BeginCycle(5)
	receipts := r.Dispatch(context.Background(), 4, dispatch.FromVerdict(verdict("edge-01", models.SeverityCritical, 0)))
	require.Len(t, receipts, 1)
	assert.Equal(t, dispatch.StatusDropped, receipts[0].Status)
}

func TestPerSubscriberOrderIsFIFO(t *testing.T) {
	r := newRouter(t, fastConfig())
	sub := &MockSubscriber{id: "ordered"}
	require.NoError(t, r.Register(sub, dispatch.Filter{}))

	for i := 0; i < 20; i++ {
		r.Dispatch(context.Background(), 1, dispatch.FromVerdict(verdict("edge-01", models.SeverityWarning, i)))
	}
	r.Dispatch(context.Background(), 1, dispatch.FromSummary(models.TierSummary{ScopeID: "fog-01", Tier: models.TierFog, Status: models.SeverityWarning}))

	require.Eventually(t, func() bool { return len(sub.Received()) == 21 }, time.Second, 5*time.Millisecond)
	got := sub.Received()
	for i := 0; i < 20; i++ {
		assert.Equal(t, ts.Add(time.Duration(i)*time.Second), got[i].Verdict.Timestamp)
	}
	assert.Equal(t, models.KindSummary, got[20].Kind)
}

func TestRetryThenSuccess(t *testing.T) {
	r := newRouter(t, fastConfig())
	sub := &MockSubscriber{id: "flaky", failFirst: 1}
	require.NoError(t, r.Register(sub, dispatch.Filter{}))

	r.Dispatch(context.Background(), 1, dispatch.FromVerdict(verdict("edge-01", models.SeverityCritical, 0)))

	require.Eventually(t, func() bool { return len(sub.Received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, sub.Received()[0].Attempts)

	stats := r.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(1), stats[0].Delivered)
	assert.Equal(t, uint64(1), stats[0].Retries)
	assert.Zero(t, stats[0].Failed)
}

func TestRetriesExhaustedDropsEnvelope(t *testing.T) {
	cfg := fastConfig()
	cfg.Retries = 2
	r := newRouter(t, cfg)
	sub := &MockSubscriber{id: "down", failFirst: 100}
	require.NoError(t, r.Register(sub, dispatch.Filter{}))

	r.Dispatch(context.Background(), 1, dispatch.FromVerdict(verdict("edge-01", models.SeverityCritical, 0)))

	require.Eventually(t, func() bool { return r.Stats()[0].Failed == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), sub.attempts.Load())
	assert.Equal(t, uint64(2), r.Stats()[0].Retries)
	assert.Empty(t, sub.Received())
}

func TestSubscriberPanicIsRecovered(t *testing.T) {
	cfg := fastConfig()
	cfg.Retries = 0
	r := newRouter(t, cfg)
	require.NoError(t, r.Register(panicSubscriber{}, dispatch.Filter{}))
	ok := &MockSubscriber{id: "ok"}
	require.NoError(t, r.Register(ok, dispatch.Filter{}))

	r.Dispatch(context.Background(), 1, dispatch.FromVerdict(verdict("edge-01", models.SeverityCritical, 0)))

	require.Eventually(t, func() bool { return len(ok.Received()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, s := range r.Stats() {
			if s.ID == "panicky" {
				return s.Failed == 1
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestDropOldestOverflow(t *testing.T) {
	cfg := fastConfig()
	cfg.QueueSize = 1
	cfg.DeliveryTimeout = 5 * time.Second
	r := newRouter(t, cfg)
	sub := newGated("slow")
	require.NoError(t, r.Register(sub, dispatch.Filter{}))

	r.Dispatch(context.Background(), 1, dispatch.FromVerdict(verdict("edge-01", models.SeverityWarning, 0)))
	<-sub.started // worker holds the first envelope

	r.Dispatch(context.Background(), 1, dispatch.FromVerdict(verdict("edge-01", models.SeverityWarning, 1)))
	receipts := r.Dispatch(context.Background(), 1, dispatch.FromVerdict(verdict("edge-01", models.SeverityWarning, 2)))
	assert.Equal(t, dispatch.StatusQueued, statuses(receipts)["slow"])

	close(sub.gate)
	require.Eventually(t, func() bool { return len(sub.Received()) == 2 }, time.Second, 5*time.Millisecond)
	got := sub.Received()
	assert.Equal(t, ts, got[0].Verdict.Timestamp)
	assert.Equal(t, ts.Add(2*time.Second), got[1].Verdict.Timestamp)
	assert.Equal(t, uint64(1), r.Stats()[0].Dropped)
}

func TestBlockOverflowTimesOut(t *testing.T) {
	cfg := fastConfig()
	cfg.QueueSize = 1
	cfg.DeliveryTimeout = 5 * time.Second
	cfg.Overflow = dispatch.OverflowBlock
	cfg.EnqueueTimeout = 20 * time.Millisecond
	r := newRouter(t, cfg)
	sub := newGated("slow")
	require.NoError(t, r.Register(sub, dispatch.Filter{}))

	r.Dispatch(context.Background(), 1, dispatch.FromVerdict(verdict("edge-01", models.SeverityWarning, 0)))
	<-sub.started

	r.Dispatch(context.Background(), 1, dispatch.FromVerdict(verdict("edge-01", models.SeverityWarning, 1)))
	start := time.Now()
	receipts := r.Dispatch(context.Background(), 1, dispatch.FromVerdict(verdict("edge-01", models.SeverityWarning, 2)))
	assert.GreaterOrEqual(t, time.Since(start), cfg.EnqueueTimeout)
	assert.Equal(t, dispatch.StatusDropped, statuses(receipts)["slow"])

	close(sub.gate)
	require.Eventually(t, func() bool { return len(sub.Received()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ts.Add(time.Second), sub.Received()[1].Verdict.Timestamp)
}

func TestRegisterAndUnregister(t *testing.T) {
	r := newRouter(t, fastConfig())
	sub := &MockSubscriber{id: "ops"}
	require.NoError(t, r.Register(sub, dispatch.Filter{}))
	assert.ErrorIs(t, r.Register(sub, dispatch.Filter{}), dispatch.ErrDuplicateSubID)

	require.NoError(t, r.Unregister("ops"))
	assert.ErrorIs(t, r.Unregister("ops"), dispatch.ErrUnknownSubscriber)

	receipts := r.Dispatch(context.Background(), 1, dispatch.FromVerdict(verdict("edge-01", models.SeverityWarning, 0)))
	assert.Equal(t, map[string]dispatch.Status{"fog-01": dispatch.StatusUpstream}, statuses(receipts))
}

func TestCloseDrainsQueues(t *testing.T) {
	topo, err := topology.Build(topology.Simulated(1, 1))
	require.NoError(t, err)
	r, err := dispatch.NewRouter(fastConfig(), topo)
	require.NoError(t, err)

	sub := &MockSubscriber{id: "ops"}
	require.NoError(t, r.Register(sub, dispatch.Filter{}))
	for i := 0; i < 10; i++ {
		r.Dispatch(context.Background(), 1, dispatch.FromVerdict(verdict("edge-01", models.SeverityWarning, i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
	assert.Len(t, sub.Received(), 10)
	assert.ErrorIs(t, r.Register(&MockSubscriber{id: "late"}, dispatch.Filter{}), dispatch.ErrRouterClosed)
}

func TestChannelSubscriber(t *testing.T) {
	r := newRouter(t, fastConfig())
	ch := dispatch.NewChannelSubscriber("chan", 4)
	require.NoError(t, r.Register(ch, dispatch.Filter{MinSeverity: models.SeverityCritical}))

	r.Dispatch(context.Background(), 1, dispatch.FromVerdict(verdict("edge-01", models.SeverityWarning, 0)))
	r.Dispatch(context.Background(), 1, dispatch.FromVerdict(verdict("edge-02", models.SeverityCritical, 0)))

	select {
	case env := <-ch.C():
		assert.Equal(t, "edge-02", env.OriginID)
	case <-time.After(time.Second):
		t.Fatal("no envelope delivered")
	}
}

func TestParseFilter(t *testing.T) {
	f, err := dispatch.ParseFilter("warning", "edge, cloud")
	require.NoError(t, err)
	assert.Equal(t, models.SeverityWarning, f.MinSeverity)
	assert.Equal(t, []models.Tier{models.TierEdge, models.TierCloud}, f.Tiers)

	f, err = dispatch.ParseFilter("", "")
	require.NoError(t, err)
	assert.Equal(t, dispatch.Filter{}, f)

	_, err = dispatch.ParseFilter("loud", "")
	assert.Error(t, err)
	_, err = dispatch.ParseFilter("", "moon")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, dispatch.DefaultConfig().Validate())

	cfg := dispatch.DefaultConfig()
	cfg.Overflow = "spill"
	assert.ErrorIs(t, cfg.Validate(), dispatch.ErrInvalidOverflow)

	cfg = dispatch.DefaultConfig()
	cfg.QueueSize = 0
	assert.ErrorIs(t, cfg.Validate(), dispatch.ErrInvalidQueue)
}
