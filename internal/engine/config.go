package engine

import (
	"errors"
	"fmt"
	"time"

	"fogpulse/internal/alerts"
	"fogpulse/internal/models"
	"fogpulse/internal/state"
)

var (
	ErrInvalidInterval = errors.New("cycle interval must be positive")
	ErrInvalidWorkers  = errors.New("workers must be positive")
	ErrFlapWindow      = errors.New("flap window must be between 1 and the ring size")
)

// Config holds engine configuration. It is fixed for the engine's lifetime.
type Config struct {
	CycleInterval time.Duration `yaml:"cycle_interval"`
	RingSize      int           `yaml:"ring_size"`
	FlapWindow    int           `yaml:"flap_window"`
	Workers       int           `yaml:"workers"`
	EMABeta       float64       `yaml:"ema_beta"`

	Rules  alerts.Rules                         `yaml:"-"`
	Health map[models.Tier]state.HealthProfile `yaml:"-"`
}

// DefaultConfig returns the engine defaults with the built-in rules.
func DefaultConfig() Config {
	return Config{
		CycleInterval: 5 * time.Second,
		RingSize:      state.DefaultRingSize,
		FlapWindow:    state.DefaultFlapWindow,
		Workers:       8,
		EMABeta:       state.DefaultEMABeta,
		Rules:         alerts.DefaultRules(),
		Health:        state.DefaultHealthProfiles(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.CycleInterval <= 0 {
		return ErrInvalidInterval
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.RingSize <= 0 {
		return fmt.Errorf("ring size must be positive, got %d", c.RingSize)
	}
	if c.FlapWindow < 1 || c.FlapWindow > c.RingSize {
		return fmt.Errorf("%w: window %d, ring %d", ErrFlapWindow, c.FlapWindow, c.RingSize)
	}
	if c.EMABeta <= 0 || c.EMABeta > 1 {
		return fmt.Errorf("ema beta must be in (0, 1], got %g", c.EMABeta)
	}
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	if c.Health != nil {
		for _, tier := range models.Tiers {
			p, ok := c.Health[tier]
			if !ok {
				return fmt.Errorf("health: no profile for tier %s", tier)
			}
			if err := p.Validate(); err != nil {
				return fmt.Errorf("health %s: %w", tier, err)
			}
		}
	}
	return nil
}
