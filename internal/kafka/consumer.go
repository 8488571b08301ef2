package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"time"

	"github.com/segmentio/kafka-go"

	"fogpulse/internal/logger"
	"fogpulse/internal/metrics"
	"fogpulse/internal/models"
)

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ConsumerConfig configures the readings consumer.
type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	MaxPerCycle int
	PollTimeout time.Duration
}

// Consumer reads metric readings from a Kafka topic. Each cycle drains at
// most MaxPerCycle messages, stopping early once no message arrives within
// PollTimeout.
type Consumer struct {
	cfg    ConsumerConfig
	reader messageReader
}

// NewConsumer creates a consumer group reader for cfg.Topic.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  cfg.PollTimeout,
	})

	log := logger.WithComponent("kafka_consumer")
	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("group_id", cfg.GroupID).
		Msg("kafka consumer initialized")
	return newConsumer(cfg, reader), nil
}

func newConsumer(cfg ConsumerConfig, reader messageReader) *Consumer {
	if cfg.MaxPerCycle <= 0 {
		cfg.MaxPerCycle = 5000
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 500 * time.Millisecond
	}
	return &Consumer{cfg: cfg, reader: reader}
}

// Readings yields the readings available for this cycle. Malformed messages
// are logged, counted, and skipped.
func (c *Consumer) Readings(ctx context.Context, cycle models.Cycle) iter.Seq[models.MetricReading] {
	return func(yield func(models.MetricReading) bool) {
		log := logger.WithCycle("kafka_consumer", cycle.Seq)

		for n := 0; n < c.cfg.MaxPerCycle; n++ {
			pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
			msg, err := c.reader.ReadMessage(pollCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
					log.Warn().Err(err).Msg("kafka read failed")
				}
				return
			}

			var r models.MetricReading
			if err := json.Unmarshal(msg.Value, &r); err != nil {
				metrics.KafkaReadingsConsumed.WithLabelValues("malformed").Inc()
				log.Warn().
					Err(err).
					Int("partition", msg.Partition).
					Int64("offset", msg.Offset).
					Msg("malformed reading skipped")
				continue
			}
			metrics.KafkaReadingsConsumed.WithLabelValues("decoded").Inc()
			if !yield(r) {
				return
			}
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error { return c.reader.Close() }
