package alerts

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"fogpulse/internal/models"
)

// Direction tells on which side of a threshold a value is anomalous.
type Direction string

const (
	Above Direction = "above"
	Below Direction = "below"
)

// Rule defines warning and critical thresholds for one metric.
type Rule struct {
	Warning   float64   `yaml:"warning" json:"warning"`
	Critical  float64   `yaml:"critical" json:"critical"`
	Direction Direction `yaml:"direction" json:"direction"`
	Weight    float64   `yaml:"weight,omitempty" json:"weight,omitempty"`
}

// RuleSet maps a metric name to its rule.
type RuleSet map[string]Rule

// Rule validation errors
var (
	ErrInvalidDirection = errors.New("direction must be above or below")
	ErrThresholdOrder   = errors.New("critical threshold must lie beyond the warning threshold")
	ErrNegativeWeight   = errors.New("weight cannot be negative")
	ErrEmptyRuleSet     = errors.New("rule set is empty")
)

// DefaultWeight applies to rules that leave Weight unset.
const DefaultWeight = 1.0

func (r Rule) direction() Direction {
	if r.Direction == "" {
		return Above
	}
	return Direction(strings.ToLower(string(r.Direction)))
}

func (r Rule) weight() float64 {
	if r.Weight == 0 {
		return DefaultWeight
	}
	return r.Weight
}

// Validate checks a single rule.
func (r Rule) Validate() error {
	switch r.direction() {
	case Above:
		if r.Critical < r.Warning {
			return ErrThresholdOrder
		}
	case Below:
		if r.Critical > r.Warning {
			return ErrThresholdOrder
		}
	default:
		return ErrInvalidDirection
	}
	if r.Weight < 0 {
		return ErrNegativeWeight
	}
	return nil
}

// Validate checks every rule of the set.
func (rs RuleSet) Validate() error {
	if len(rs) == 0 {
		return ErrEmptyRuleSet
	}
	for _, name := range rs.Metrics() {
		if err := rs[name].Validate(); err != nil {
			return fmt.Errorf("rule %s: %w", name, err)
		}
	}
	return nil
}

// Metrics returns the metric names of the set, sorted.
func (rs RuleSet) Metrics() []string {
	names := make([]string, 0, len(rs))
	for name := range rs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rules is the base rule set plus per-tier overrides. A tier override
// replaces the base rule for the metrics it names.
type Rules struct {
	Base  RuleSet
	Tiers map[models.Tier]RuleSet
}

// ForTier merges the base set with the overrides of tier.
func (r Rules) ForTier(tier models.Tier) RuleSet {
	override := r.Tiers[tier]
	out := make(RuleSet, len(r.Base)+len(override))
	for name, rule := range r.Base {
		out[name] = rule
	}
	for name, rule := range override {
		out[name] = rule
	}
	return out
}

// Validate checks the base set and every override.
func (r Rules) Validate() error {
	if err := r.Base.Validate(); err != nil {
		return fmt.Errorf("base rules: %w", err)
	}
	for tier, rs := range r.Tiers {
		if !tier.IsValid() {
			return fmt.Errorf("tier rules: %w", models.ErrInvalidTier)
		}
		for _, name := range rs.Metrics() {
			if err := rs[name].Validate(); err != nil {
				return fmt.Errorf("%s rule %s: %w", tier, name, err)
			}
		}
	}
	return nil
}
