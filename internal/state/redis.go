package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fogpulse/internal/logger"
	"fogpulse/internal/models"
)

// RedisConfig configures the status cache.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
	MaxAlerts int64         `yaml:"max_alerts"`
}

// ErrNoSummary is returned by LatestSummary when no summary is cached.
var ErrNoSummary = errors.New("no cached summary")

// RedisCache is a subscriber that keeps the latest summary per scope and a
// short list of recent alerts per node. All keys expire after TTL.
type RedisCache struct {
	id     string
	client *redis.Client
	cfg    RedisConfig
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "fogpulse"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = 50
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	log := logger.WithComponent("redis_cache")
	log.Info().
		Str("addr", cfg.Addr).
		Str("prefix", cfg.KeyPrefix).
		Msg("redis status cache connected")

	return &RedisCache{id: "redis:" + cfg.Addr, client: client, cfg: cfg}, nil
}

func (c *RedisCache) ID() string { return c.id }

// Deliver stores the envelope payload.
func (c *RedisCache) Deliver(ctx context.Context, env *models.AlertEnvelope) error {
	switch env.Kind {
	case models.KindSummary:
		return c.storeSummary(ctx, env)
	case models.KindVerdict:
		return c.storeAlert(ctx, env)
	}
	return fmt.Errorf("unknown envelope kind %q", env.Kind)
}

func (c *RedisCache) storeSummary(ctx context.Context, env *models.AlertEnvelope) error {
	data, err := json.Marshal(env.Summary)
	if err != nil {
		return err
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, SummaryKey(c.cfg.KeyPrefix, env.Summary.ScopeID), data, c.cfg.TTL)
		pipe.HSet(ctx, TierStatusKey(c.cfg.KeyPrefix, env.Summary.Tier), env.Summary.ScopeID, env.Summary.Status.String())
		pipe.Expire(ctx, TierStatusKey(c.cfg.KeyPrefix, env.Summary.Tier), c.cfg.TTL)
		return nil
	})
	return err
}

func (c *RedisCache) storeAlert(ctx context.Context, env *models.AlertEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	key := AlertsKey(c.cfg.KeyPrefix, env.OriginID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, c.cfg.MaxAlerts-1)
		pipe.Expire(ctx, key, c.cfg.TTL)
		pipe.Publish(ctx, c.cfg.KeyPrefix+":alerts", data)
		return nil
	})
	return err
}

// LatestSummary reads the cached summary of a scope. It returns
// ErrNoSummary if none was written.
func (c *RedisCache) LatestSummary(ctx context.Context, scopeID string) (*models.TierSummary, error) {
	data, err := c.client.Get(ctx, SummaryKey(c.cfg.KeyPrefix, scopeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSummary
	}
	if err != nil {
		return nil, err
	}
	var s models.TierSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *RedisCache) Close() error { return c.client.Close() }

// SummaryKey is the key holding the latest summary of scopeID.
func SummaryKey(prefix, scopeID string) string {
	return prefix + ":summary:" + scopeID
}

// TierStatusKey is the hash of scope -> status for one tier.
func TierStatusKey(prefix string, tier models.Tier) string {
	return prefix + ":status:" + tier.String()
}

// AlertsKey is the list of recent alerts of nodeID.
func AlertsKey(prefix, nodeID string) string {
	return prefix + ":alerts:" + nodeID
}
