package models

import "time"

// Cycle identifies one monitoring cycle. It is created by the engine and
// passed explicitly to the aggregator and router instead of a global clock.
type Cycle struct {
	Seq       uint64    `json:"seq"`
	StartedAt time.Time `json:"started_at"`
}

func NewCycle(seq uint64, now time.Time) Cycle {
	return Cycle{Seq: seq, StartedAt: now.UTC()}
}
