package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"fogpulse/internal/logger"
	"fogpulse/internal/metrics"
	"fogpulse/internal/models"
)

// subscription owns the bounded queue and delivery goroutine of one
// subscriber.
type subscription struct {
	sub    Subscriber
	filter Filter
	cfg    Config
	queue  chan *models.AlertEnvelope
	log    zerolog.Logger

	// mu guards closed against enqueue; senders hold the read side.
	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	retries   atomic.Uint64
}

func newSubscription(sub Subscriber, filter Filter, cfg Config) *subscription {
	return &subscription{
		sub:    sub,
		filter: filter,
		cfg:    cfg,
		queue:  make(chan *models.AlertEnvelope, cfg.QueueSize),
		log:    logger.WithComponent("dispatch").With().Str("subscriber", sub.ID()).Logger(),
		done:   make(chan struct{}),
	}
}

// enqueue applies the overflow policy and reports whether env was queued.
func (s *subscription) enqueue(ctx context.Context, env *models.AlertEnvelope) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}

	select {
	case s.queue <- env:
		metrics.QueueDepth.WithLabelValues(s.sub.ID()).Set(float64(len(s.queue)))
		return true
	default:
	}

	switch s.cfg.Overflow {
	case OverflowBlock:
		timer := time.NewTimer(s.cfg.EnqueueTimeout)
		defer timer.Stop()
		select {
		case s.queue <- env:
			return true
		case <-timer.C:
		case <-ctx.Done():
		}
		s.drop(env, "enqueue timeout")
		return false

	default:
		// Evict until there is room; the worker may race us for the head.
		for {
			select {
			case s.queue <- env:
				return true
			default:
			}
			select {
			case old := <-s.queue:
				s.drop(old, "evicted by newer envelope")
			default:
			}
		}
	}
}

func (s *subscription) drop(env *models.AlertEnvelope, reason string) {
	s.dropped.Add(1)
	metrics.DeliveriesTotal.WithLabelValues(s.sub.ID(), "dropped").Inc()
	s.log.Warn().
		Str("envelope_id", env.ID).
		Str("origin_id", env.OriginID).
		Uint64("cycle", env.Cycle).
		Msg("envelope dropped: " + reason)
}

// close stops accepting envelopes. The worker drains what is queued.
func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}

// run is the delivery loop. It exits when the queue is closed and drained
// or ctx is cancelled.
func (s *subscription) run(ctx context.Context) {
	defer close(s.done)

	s.log.Debug().Msg("delivery worker started")
	defer s.log.Debug().Msg("delivery worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-s.queue:
			if !ok {
				return
			}
			metrics.QueueDepth.WithLabelValues(s.sub.ID()).Set(float64(len(s.queue)))
			s.deliver(ctx, env)
		}
	}
}

// deliver tries once plus cfg.Retries times with doubling backoff. A final
// failure is logged and counted as a DeliveryFailure.
func (s *subscription) deliver(ctx context.Context, env *models.AlertEnvelope) {
	var err error
	backoff := s.cfg.RetryBackoff

retry:
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			s.retries.Add(1)
			metrics.DeliveryRetries.WithLabelValues(s.sub.ID()).Inc()
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				err = ctx.Err()
				break retry
			}
			backoff *= 2
		}

		env.Attempts = attempt + 1
		start := time.Now()
		err = s.attempt(ctx, env)
		metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			s.delivered.Add(1)
			metrics.DeliveriesTotal.WithLabelValues(s.sub.ID(), "success").Inc()
			return
		}

		s.log.Debug().
			Err(err).
			Str("envelope_id", env.ID).
			Int("attempt", attempt+1).
			Msg("delivery attempt failed")
	}

	failure := &models.DeliveryFailure{
		SubscriberID: s.sub.ID(),
		EnvelopeID:   env.ID,
		Attempts:     env.Attempts,
		Err:          err,
	}
	s.failed.Add(1)
	metrics.DeliveriesTotal.WithLabelValues(s.sub.ID(), "failed").Inc()
	s.log.Error().
		Err(failure).
		Str("origin_id", env.OriginID).
		Uint64("cycle", env.Cycle).
		Msg("envelope dropped after retries")
}

// attempt performs one bounded delivery, turning a subscriber panic into an
// error.
func (s *subscription) attempt(ctx context.Context, env *models.AlertEnvelope) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("subscriber panic recovered")
			metrics.PanicsRecovered.WithLabelValues("dispatch").Inc()
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()

	return s.sub.Deliver(ctx, env)
}

func (s *subscription) stats() SubscriberStats {
	return SubscriberStats{
		ID:        s.sub.ID(),
		Filter:    s.filter,
		Queued:    len(s.queue),
		Delivered: s.delivered.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
		Retries:   s.retries.Load(),
	}
}

// SubscriberStats holds delivery counters for one subscriber.
type SubscriberStats struct {
	ID        string `json:"id"`
	Filter    Filter `json:"filter"`
	Queued    int    `json:"queued"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Retries   uint64 `json:"retries"`
}
