package models

import (
	"fmt"
	"strings"
)

// InvalidReadingError is returned for a malformed or unusable reading. The
// reading is skipped and the cycle continues.
type InvalidReadingError struct {
	NodeID string
	Metric string
	Reason error
}

func (e *InvalidReadingError) Error() string {
	var b strings.Builder
	b.WriteString("invalid reading")
	if e.NodeID != "" {
		fmt.Fprintf(&b, " from %s", e.NodeID)
	}
	if e.Metric != "" {
		fmt.Fprintf(&b, " (metric %s)", e.Metric)
	}
	if e.Reason != nil {
		b.WriteString(": ")
		b.WriteString(e.Reason.Error())
	}
	return b.String()
}

func (e *InvalidReadingError) Unwrap() error { return e.Reason }

// IncompleteTopologyError reports children of a scope that had no state for
// the current cycle. The scope's summary is still produced, marked partial.
type IncompleteTopologyError struct {
	ScopeID string
	Cycle   uint64
	Missing []string
}

func (e *IncompleteTopologyError) Error() string {
	return fmt.Sprintf("incomplete topology under %s at cycle %d: missing %s",
		e.ScopeID, e.Cycle, strings.Join(e.Missing, ","))
}

// DeliveryFailure records an envelope dropped after its retries ran out.
// It is logged and counted, never returned to the dispatching caller.
type DeliveryFailure struct {
	SubscriberID string
	EnvelopeID   string
	Attempts     int
	Err          error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("delivery of %s to %s failed after %d attempts: %v",
		e.EnvelopeID, e.SubscriberID, e.Attempts, e.Err)
}

func (e *DeliveryFailure) Unwrap() error { return e.Err }
