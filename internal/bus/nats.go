package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"fogpulse/internal/logger"
	"fogpulse/internal/metrics"
	"fogpulse/internal/models"
)

var ErrPublisherClosed = errors.New("nats publisher is closed")

type natsConn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
	Close()
}

// Publisher fans alert envelopes out on NATS subjects of the form
// <prefix>.<kind>.<origin tier>, e.g. fogpulse.summary.fog.
type Publisher struct {
	conn   natsConn
	url    string
	prefix string
}

func NewPublisher(url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("fogpulse"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log := logger.WithComponent("nats")
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log := logger.WithComponent("nats")
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	log := logger.WithComponent("nats")
	log.Info().Str("url", url).Str("prefix", prefix).Msg("nats publisher connected")
	return &Publisher{conn: nc, url: url, prefix: prefix}, nil
}

// ID identifies the publisher as a subscriber.
func (p *Publisher) ID() string { return "nats:" + p.url }

// Subject returns the subject env is published on.
func (p *Publisher) Subject(env *models.AlertEnvelope) string {
	subject := string(env.Kind) + "." + env.OriginTier.String()
	if p.prefix == "" {
		return subject
	}
	return p.prefix + "." + subject
}

// Deliver publishes env and flushes so a broken connection fails the attempt.
func (p *Publisher) Deliver(ctx context.Context, env *models.AlertEnvelope) error {
	if p.conn == nil {
		return ErrPublisherClosed
	}
	data, err := json.Marshal(env)
	if err != nil {
		metrics.NATSPublishTotal.WithLabelValues("failed").Inc()
		return err
	}
	if err := p.conn.Publish(p.Subject(env), data); err != nil {
		metrics.NATSPublishTotal.WithLabelValues("failed").Inc()
		return err
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		metrics.NATSPublishTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.NATSPublishTotal.WithLabelValues("success").Inc()
	return nil
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Drain()
		p.conn.Close()
	}
}
