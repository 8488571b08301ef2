package models

import (
	"time"

	"github.com/google/uuid"
)

// EnvelopeKind tells which payload an envelope carries.
type EnvelopeKind string

const (
	KindVerdict EnvelopeKind = "verdict"
	KindSummary EnvelopeKind = "summary"
)

// AlertEnvelope wraps a Verdict or a TierSummary with routing metadata. One
// envelope is built per destination and consumed exactly once.
type AlertEnvelope struct {
	ID   string       `json:"id"`
	Kind EnvelopeKind `json:"kind"`

	// Payload, exactly one is set
	Verdict *Verdict     `json:"verdict,omitempty"`
	Summary *TierSummary `json:"summary,omitempty"`

	// Routing metadata
	OriginTier      Tier      `json:"origin_tier"`
	OriginID        string    `json:"origin_id"`
	Destination     string    `json:"destination"`
	DestinationTier Tier      `json:"destination_tier,omitempty"`
	Cycle           uint64    `json:"cycle"`
	DispatchedAt    time.Time `json:"dispatched_at"`
	Attempts        int       `json:"attempts"`
}

// NewVerdictEnvelope creates an envelope carrying a verdict
func NewVerdictEnvelope(v Verdict, cycle uint64) *AlertEnvelope {
	return &AlertEnvelope{
		ID:           uuid.NewString(),
		Kind:         KindVerdict,
		Verdict:      &v,
		OriginTier:   v.Tier,
		OriginID:     v.NodeID,
		Cycle:        cycle,
		DispatchedAt: time.Now().UTC(),
	}
}

// NewSummaryEnvelope creates an envelope carrying a tier summary
func NewSummaryEnvelope(s TierSummary, cycle uint64) *AlertEnvelope {
	return &AlertEnvelope{
		ID:           uuid.NewString(),
		Kind:         KindSummary,
		Summary:      &s,
		OriginTier:   s.Tier,
		OriginID:     s.ScopeID,
		Cycle:        cycle,
		DispatchedAt: time.Now().UTC(),
	}
}

// To sets the destination of the envelope
func (e *AlertEnvelope) To(destination string, tier Tier) *AlertEnvelope {
	e.Destination = destination
	e.DestinationTier = tier
	return e
}

// Severity returns the verdict severity or the summary status.
func (e *AlertEnvelope) Severity() Severity {
	switch {
	case e.Verdict != nil:
		return e.Verdict.Severity
	case e.Summary != nil:
		return e.Summary.Status
	}
	return SeverityNormal
}

// DedupKey identifies the payload within a cycle, independent of destination.
func (e *AlertEnvelope) DedupKey() string {
	key := string(e.Kind) + "/" + e.OriginID
	if e.Verdict != nil {
		key += "/" + e.Verdict.Timestamp.Format(time.RFC3339Nano)
	}
	return key
}
