package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Tier is a layer of the fog topology, ordered by aggregation direction.
type Tier int

const (
	TierEdge Tier = iota + 1
	TierFog
	TierCloud
)

// Tiers lists every tier bottom-up.
var Tiers = []Tier{TierEdge, TierFog, TierCloud}

var ErrInvalidTier = errors.New("invalid tier")

func (t Tier) String() string {
	switch t {
	case TierEdge:
		return "edge"
	case TierFog:
		return "fog"
	case TierCloud:
		return "cloud"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// IsValid reports whether t is one of the known tiers.
func (t Tier) IsValid() bool {
	return t >= TierEdge && t <= TierCloud
}

// ParseTier parses a tier name, case-insensitively.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "edge":
		return TierEdge, nil
	case "fog":
		return TierFog, nil
	case "cloud":
		return TierCloud, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTier, s)
}

// MarshalText encodes the zero tier as "" so envelopes without a tier stay
// encodable.
func (t Tier) MarshalText() ([]byte, error) {
	if t == 0 {
		return []byte{}, nil
	}
	if !t.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTier, int(t))
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*t = 0
		return nil
	}
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON keeps tiers readable in envelopes.
func (t Tier) MarshalJSON() ([]byte, error) {
	b, err := t.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(b))
}

func (t *Tier) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return t.UnmarshalText([]byte(s))
}

// Node is one record in the topology arena. Links are ids, never pointers.
type Node struct {
	ID       string   `json:"id"`
	Tier     Tier     `json:"tier"`
	Parent   string   `json:"parent,omitempty"`
	Children []string `json:"children,omitempty"`
}

// IsRoot reports whether the node has no parent.
func (n Node) IsRoot() bool { return n.Parent == "" }

// IsScope reports whether the node aggregates children.
func (n Node) IsScope() bool { return len(n.Children) > 0 }
