package models

import (
	"errors"
	"math"
	"time"
)

// MetricReading is one health sample reported by a node.
type MetricReading struct {
	// Node that produced the sample
	NodeID string `json:"node_id"`

	// Time the sample was taken at the node
	Timestamp time.Time `json:"timestamp"`

	// Metric name -> value, e.g. cpu_load, latency_ms, packet_loss
	Metrics map[string]float64 `json:"metrics"`

	// Fault label known to the source, e.g. overload. Empty when unknown.
	Anomaly string `json:"anomaly,omitempty"`
}

// Validation errors
var (
	ErrEmptyNodeID      = errors.New("node ID cannot be empty")
	ErrZeroTimestamp    = errors.New("timestamp cannot be zero")
	ErrNoMetrics        = errors.New("reading has no metrics")
	ErrNonFiniteValue   = errors.New("metric value must be finite")
	ErrTooManyMetrics   = errors.New("too many metrics")
	ErrUnknownNode      = errors.New("node is not part of the topology")
	ErrOutOfOrder       = errors.New("timestamp is before the node's last reading")
	ErrNoRecognized     = errors.New("reading has no recognized metrics")
	ErrInvalidTimestamp = errors.New("invalid timestamp format")
)

const MaxMetricsPerReading = 64

// Validate checks the reading is well formed. It does not know about rules
// or the topology; those checks belong to the evaluator and the engine.
func (r *MetricReading) Validate() error {
	if r.NodeID == "" {
		return &InvalidReadingError{Reason: ErrEmptyNodeID}
	}

	if r.Timestamp.IsZero() {
		return &InvalidReadingError{NodeID: r.NodeID, Reason: ErrZeroTimestamp}
	}

	if len(r.Metrics) == 0 {
		return &InvalidReadingError{NodeID: r.NodeID, Reason: ErrNoMetrics}
	}

	if len(r.Metrics) > MaxMetricsPerReading {
		return &InvalidReadingError{NodeID: r.NodeID, Reason: ErrTooManyMetrics}
	}

	for name, v := range r.Metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &InvalidReadingError{NodeID: r.NodeID, Metric: name, Reason: ErrNonFiniteValue}
		}
	}

	return nil
}
