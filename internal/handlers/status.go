package handlers

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"fogpulse/internal/aggregate"
	"fogpulse/internal/dispatch"
	"fogpulse/internal/engine"
	"fogpulse/internal/logger"
	"fogpulse/internal/models"
	"fogpulse/internal/state"
)

// SnapshotSource exposes the engine's latest published view.
type SnapshotSource interface {
	Snapshot() engine.Snapshot
}

// StatsSource exposes router delivery counters.
type StatsSource interface {
	Stats() []dispatch.SubscriberStats
}

// SummaryCache holds summaries persisted by an earlier run.
type SummaryCache interface {
	LatestSummary(ctx context.Context, scopeID string) (*models.TierSummary, error)
}

// StatusHandler serves read-only views of topology health.
type StatusHandler struct {
	engine  SnapshotSource
	router  StatsSource
	cache   SummaryCache
	roots   []string
	started time.Time
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(engine SnapshotSource, router StatsSource) *StatusHandler {
	return &StatusHandler{engine: engine, router: router, started: time.Now()}
}

// WithRoots makes Health report the status of the given root scopes.
func (h *StatusHandler) WithRoots(ids []string) *StatusHandler {
	h.roots = ids
	return h
}

// WithSummaryCache makes Scope fall back to c for scopes the engine has not
// summarized yet, e.g. right after a restart.
func (h *StatusHandler) WithSummaryCache(c SummaryCache) *StatusHandler {
	h.cache = c
	return h
}

// Health reports liveness, the latest completed cycle and, when roots are
// configured, the status of each root scope.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	resp := map[string]any{
		"status": "ok",
		"cycle":  snap.Cycle,
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if len(h.roots) > 0 {
		roots := make(map[string]models.Severity, len(h.roots))
		for _, s := range snap.Summaries {
			if slices.Contains(h.roots, s.ScopeID) {
				roots[s.ScopeID] = s.Status
			}
		}
		resp["roots"] = roots
	}
	writeJSON(w, http.StatusOK, resp)
}

// Scopes returns the latest summaries, worst first.
func (h *StatusHandler) Scopes(w http.ResponseWriter, r *http.Request) {
	summaries := slices.Clone(h.engine.Snapshot().Summaries)
	slices.SortFunc(summaries, aggregate.Compare)
	writeJSON(w, http.StatusOK, summaries)
}

// Status returns the full snapshot.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

// Scope returns the latest summary of one scope.
func (h *StatusHandler) Scope(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scopeID")
	for _, s := range h.engine.Snapshot().Summaries {
		if s.ScopeID == id {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	if h.cache != nil {
		s, err := h.cache.LatestSummary(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, s)
			return
		case !errors.Is(err, state.ErrNoSummary):
			log := logger.WithComponent("status")
			log.Error().Err(err).Str("scope_id", id).Msg("failed to read cached summary")
			writeError(w, http.StatusServiceUnavailable, "summary cache unavailable")
			return
		}
	}
	writeError(w, http.StatusNotFound, "no summary for scope "+id)
}

// Node returns the latest snapshot of one node.
func (h *StatusHandler) Node(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "nodeID")
	for _, n := range h.engine.Snapshot().Nodes {
		if n.NodeID == id {
			writeJSON(w, http.StatusOK, n)
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown node "+id)
}

// Subscribers returns per-subscriber delivery counters.
func (h *StatusHandler) Subscribers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.router.Stats())
}
