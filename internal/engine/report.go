package engine

import (
	"time"

	"fogpulse/internal/models"
	"fogpulse/internal/state"
)

// CycleReport describes one completed or aborted cycle.
type CycleReport struct {
	Cycle            uint64               `json:"cycle"`
	StartedAt        time.Time            `json:"started_at"`
	Duration         time.Duration        `json:"duration"`
	ReadingsAccepted int                  `json:"readings_accepted"`
	ReadingsRejected int                  `json:"readings_rejected"`
	Verdicts         int                  `json:"verdicts"`
	AlertsDispatched int                  `json:"alerts_dispatched"`
	Summaries        []models.TierSummary `json:"summaries"`
	PartialScopes    []string             `json:"partial_scopes,omitempty"`
	Aborted          bool                 `json:"aborted"`

	// Errors holds the InvalidReadingError and IncompleteTopologyError
	// values recorded during the cycle.
	Errors []error `json:"-"`
}

// Summary returns the summary of scopeID from this cycle, if any.
func (r CycleReport) Summary(scopeID string) (models.TierSummary, bool) {
	for _, s := range r.Summaries {
		if s.ScopeID == scopeID {
			return s, true
		}
	}
	return models.TierSummary{}, false
}

// Snapshot is a copy of the engine's view at the end of the latest cycle.
type Snapshot struct {
	Cycle     uint64               `json:"cycle"`
	Report    CycleReport          `json:"report"`
	Summaries []models.TierSummary `json:"summaries"`
	Nodes     []state.Snapshot     `json:"nodes"`
}
