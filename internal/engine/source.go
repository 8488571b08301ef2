package engine

import (
	"context"
	"iter"
	"slices"

	"fogpulse/internal/models"
)

// Source yields the readings of one cycle. The sequence is finite and may be
// requested again for the next cycle.
type Source interface {
	Readings(ctx context.Context, cycle models.Cycle) iter.Seq[models.MetricReading]
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, cycle models.Cycle) iter.Seq[models.MetricReading]

func (f SourceFunc) Readings(ctx context.Context, cycle models.Cycle) iter.Seq[models.MetricReading] {
	return f(ctx, cycle)
}

// StaticSource yields the same readings every cycle.
func StaticSource(readings ...models.MetricReading) Source {
	return SourceFunc(func(context.Context, models.Cycle) iter.Seq[models.MetricReading] {
		return slices.Values(readings)
	})
}

// MultiSource concatenates sources in order.
func MultiSource(sources ...Source) Source {
	return SourceFunc(func(ctx context.Context, cycle models.Cycle) iter.Seq[models.MetricReading] {
		return func(yield func(models.MetricReading) bool) {
			for _, src := range sources {
				for r := range src.Readings(ctx, cycle) {
					if !yield(r) {
						return
					}
				}
			}
		}
	})
}
