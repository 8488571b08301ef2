package models_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"fogpulse/internal/models"
)

func TestMetricReadingValidate(t *testing.T) {
	validReading := func() *models.MetricReading {
		return &models.MetricReading{
			NodeID:    "edge-01",
			Timestamp: time.Now(),
			Metrics:   map[string]float64{"cpu_load": 42, "latency_ms": 80},
		}
	}

	tests := []struct {
		name    string
		modify  func(*models.MetricReading)
		wantErr error
	}{
		{"valid reading", func(r *models.MetricReading) {}, nil},
		{"empty node ID", func(r *models.MetricReading) { r.NodeID = "" }, models.ErrEmptyNodeID},
		{"zero timestamp", func(r *models.MetricReading) { r.Timestamp = time.Time{} }, models.ErrZeroTimestamp},
		{"no metrics", func(r *models.MetricReading) { r.Metrics = nil }, models.ErrNoMetrics},
		{"NaN value", func(r *models.MetricReading) { r.Metrics["cpu_load"] = math.NaN() }, models.ErrNonFiniteValue},
		{"Inf value", func(r *models.MetricReading) { r.Metrics["latency_ms"] = math.Inf(1) }, models.ErrNonFiniteValue},
		{"too many metrics", func(r *models.MetricReading) {
			for i := 0; i <= models.MaxMetricsPerReading; i++ {
				r.Metrics[string(rune('a'+i%26))+string(rune('a'+i/26))] = 1
			}
		}, models.ErrTooManyMetrics},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validReading()
			tt.modify(r)
			err := r.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			var invalid *models.InvalidReadingError
			if !errors.As(err, &invalid) {
				t.Errorf("Validate() error %T is not an InvalidReadingError", err)
			}
		})
	}
}

func TestMetricReadingNormalize(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("WAT", 3600))
	r := &models.MetricReading{
		NodeID:    "  fog-02  ",
		Timestamp: ts,
		Metrics: map[string]float64{
			"  CPU_Load ": 71.5,
			"   ":         3,
		},
	}

	r.Normalize()

	if r.NodeID != "fog-02" {
		t.Errorf("expected NodeID 'fog-02', got %q", r.NodeID)
	}
	if r.Timestamp.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got %v", r.Timestamp.Location())
	}
	if !r.Timestamp.Equal(ts) {
		t.Errorf("timestamp instant changed: %v != %v", r.Timestamp, ts)
	}
	if v, ok := r.Metrics["cpu_load"]; !ok || v != 71.5 {
		t.Errorf("expected cpu_load=71.5, got %v (present=%v)", v, ok)
	}
	if len(r.Metrics) != 1 {
		t.Errorf("expected blank metric names dropped, got %v", r.Metrics)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"2026-03-01T12:00:00Z", false},
		{"2026-03-01T12:00:00.123456789Z", false},
		{"2026-03-01 12:00:00", false},
		{"  2026-03-01T12:00:00  ", false},
		{"not a timestamp", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ts, err := models.ParseTimestamp(tt.input)
			if tt.wantErr {
				if err != models.ErrInvalidTimestamp {
					t.Errorf("expected ErrInvalidTimestamp, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ts.Location() != time.UTC {
				t.Errorf("expected UTC, got %v", ts.Location())
			}
		})
	}
}
