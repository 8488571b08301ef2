// Package source holds metric sources that are filled from outside the
// engine and drained once per cycle.
package source

import (
	"context"
	"iter"
	"slices"
	"sync"

	"fogpulse/internal/metrics"
	"fogpulse/internal/models"
)

// DefaultCapacity bounds a Buffer created with a non-positive capacity.
const DefaultCapacity = 10000

// Buffer is a bounded FIFO of readings pushed by producers such as the HTTP
// ingest handler. Each cycle drains everything pushed since the last one.
type Buffer struct {
	mu       sync.Mutex
	readings []models.MetricReading
	capacity int
	dropped  uint64
}

// NewBuffer creates a buffer holding at most capacity readings.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity}
}

// Push appends a reading and reports whether there was room for it.
func (b *Buffer) Push(r models.MetricReading) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.readings) >= b.capacity {
		b.dropped++
		metrics.IngestBufferDropped.Inc()
		return false
	}
	b.readings = append(b.readings, r)
	return true
}

// Len returns the number of buffered readings.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.readings)
}

// Dropped returns how many readings were refused because the buffer was full.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Readings takes the buffered readings for the cycle. Readings pushed while
// the cycle runs wait for the next one.
func (b *Buffer) Readings(_ context.Context, _ models.Cycle) iter.Seq[models.MetricReading] {
	b.mu.Lock()
	batch := b.readings
	b.readings = nil
	b.mu.Unlock()
	return slices.Values(batch)
}
