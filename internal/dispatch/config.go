package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// OverflowPolicy decides what happens when a subscriber queue is full.
type OverflowPolicy string

const (
	// OverflowDropOldest evicts the oldest queued envelope.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	// OverflowBlock waits up to EnqueueTimeout and then drops the new envelope.
	OverflowBlock OverflowPolicy = "block"
)

var (
	ErrInvalidOverflow = errors.New("invalid overflow policy")
	ErrInvalidQueue    = errors.New("queue size must be positive")
)

// Config holds router configuration
type Config struct {
	QueueSize       int            `yaml:"queue_size"`
	Retries         int            `yaml:"retries"`
	RetryBackoff    time.Duration  `yaml:"retry_backoff"`
	DeliveryTimeout time.Duration  `yaml:"delivery_timeout"`
	Overflow        OverflowPolicy `yaml:"overflow"`
	EnqueueTimeout  time.Duration  `yaml:"enqueue_timeout"`
}

// DefaultConfig returns the router defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:       256,
		Retries:         1,
		RetryBackoff:    50 * time.Millisecond,
		DeliveryTimeout: 2 * time.Second,
		Overflow:        OverflowDropOldest,
		EnqueueTimeout:  100 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.QueueSize <= 0 {
		return ErrInvalidQueue
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.Retries)
	}
	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("delivery timeout must be positive, got %s", c.DeliveryTimeout)
	}
	switch c.Overflow {
	case OverflowDropOldest:
	case OverflowBlock:
		if c.EnqueueTimeout <= 0 {
			return fmt.Errorf("enqueue timeout must be positive for block policy, got %s", c.EnqueueTimeout)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOverflow, c.Overflow)
	}
	return nil
}
