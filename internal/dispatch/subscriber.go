// Package dispatch routes verdicts and tier summaries to parent scopes and
// to registered subscribers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"fogpulse/internal/models"
)

// Subscriber receives envelopes from its delivery worker. Deliver is called
// sequentially for one subscriber, in dispatch order.
type Subscriber interface {
	ID() string
	Deliver(ctx context.Context, env *models.AlertEnvelope) error
}

// Filter selects the envelopes a subscriber is interested in.
type Filter struct {
	MinSeverity models.Severity `json:"min_severity" yaml:"min_severity"`
	// Tiers limits delivery to envelopes originating in these tiers; empty
	// means every tier.
	Tiers []models.Tier `json:"tiers,omitempty" yaml:"tiers,omitempty"`
}

// Accepts reports whether env passes the filter.
func (f Filter) Accepts(env *models.AlertEnvelope) bool {
	if env.Severity() < f.MinSeverity {
		return false
	}
	return len(f.Tiers) == 0 || slices.Contains(f.Tiers, env.OriginTier)
}

// ParseFilter builds a filter from the textual forms used in query strings
// and config, e.g. min "warning" and tiers "edge,fog".
func ParseFilter(min, tiers string) (Filter, error) {
	var f Filter
	sev, err := models.ParseSeverity(min)
	if err != nil {
		return f, err
	}
	f.MinSeverity = sev
	for _, part := range strings.Split(tiers, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tier, err := models.ParseTier(part)
		if err != nil {
			return f, err
		}
		f.Tiers = append(f.Tiers, tier)
	}
	return f, nil
}

// ChannelSubscriber delivers envelopes to a Go channel. It is the in-process
// subscriber used by embedding code and tests.
type ChannelSubscriber struct {
	id string
	ch chan *models.AlertEnvelope
}

// ErrSubscriberFull is returned when a ChannelSubscriber's buffer is full.
var ErrSubscriberFull = errors.New("subscriber buffer full")

// NewChannelSubscriber creates a subscriber with a buffered channel.
func NewChannelSubscriber(id string, buffer int) *ChannelSubscriber {
	return &ChannelSubscriber{id: id, ch: make(chan *models.AlertEnvelope, buffer)}
}

func (s *ChannelSubscriber) ID() string { return s.id }

// C returns the receive side of the subscriber.
func (s *ChannelSubscriber) C() <-chan *models.AlertEnvelope { return s.ch }

// Deliver waits for buffer space until ctx expires.
func (s *ChannelSubscriber) Deliver(ctx context.Context, env *models.AlertEnvelope) error {
	select {
	case s.ch <- env:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrSubscriberFull, ctx.Err())
	}
}
