package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fogpulse/internal/alerts"
	"fogpulse/internal/dispatch"
	"fogpulse/internal/engine"
	"fogpulse/internal/models"
	"fogpulse/internal/state"
	"fogpulse/internal/topology"
)

// Config holds runtime configuration for the monitoring service.
type Config struct {
	LogLevel   string              `yaml:"log_level"`
	Engine     EngineConfig        `yaml:"engine"`
	Rules      RulesConfig         `yaml:"rules"`
	Topology   []topology.NodeSpec `yaml:"topology"`
	Dispatch   dispatch.Config     `yaml:"dispatch"`
	HTTP       HTTPConfig          `yaml:"http"`
	Kafka      KafkaConfig         `yaml:"kafka"`
	NATS       NATSConfig          `yaml:"nats"`
	Redis      RedisConfig         `yaml:"redis"`
	Simulation SimulationConfig    `yaml:"simulation"`
}

// EngineConfig holds cycle and state settings.
type EngineConfig struct {
	CycleInterval time.Duration `yaml:"cycle_interval"`
	RingSize      int           `yaml:"ring_size"`
	FlapWindow    int           `yaml:"flap_window"`
	Workers       int           `yaml:"workers"`
	EMABeta       float64       `yaml:"ema_beta"`

	// Health score reference values keyed by tier name.
	Health map[string]state.HealthProfile `yaml:"health"`
}

// RulesConfig holds the base thresholds and per-tier overrides, keyed by
// tier name (edge, fog, cloud).
type RulesConfig struct {
	Base  alerts.RuleSet            `yaml:"base"`
	Tiers map[string]alerts.RuleSet `yaml:"tiers"`
}

// HTTPConfig holds the status and ingest server settings.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	IngestBuffer    int           `yaml:"ingest_buffer"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// KafkaConfig holds the readings consumer and alerts producer settings.
type KafkaConfig struct {
	Enabled       bool           `yaml:"enabled"`
	Brokers       []string       `yaml:"brokers"`
	ReadingsTopic string         `yaml:"readings_topic"`
	AlertsTopic   string         `yaml:"alerts_topic"`
	GroupID       string         `yaml:"group_id"`
	MaxPerCycle   int            `yaml:"max_per_cycle"`
	PollTimeout   time.Duration  `yaml:"poll_timeout"`
	MinSeverity   string         `yaml:"min_severity"`
	Producer      ProducerConfig `yaml:"producer"`
}

// ProducerConfig holds Kafka writer pool settings.
type ProducerConfig struct {
	PoolSize     int           `yaml:"pool_size"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
	Compression  string        `yaml:"compression"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// NATSConfig holds the alert publisher settings.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	MinSeverity   string `yaml:"min_severity"`
}

// RedisConfig holds the status cache settings.
type RedisConfig struct {
	Enabled           bool   `yaml:"enabled"`
	MinSeverity       string `yaml:"min_severity"`
	state.RedisConfig `yaml:",inline"`
}

// SimulationConfig drives the built-in reading generator.
type SimulationConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Seed        int64   `yaml:"seed"`
	FaultRate   float64 `yaml:"fault_rate"`
	Fogs        int     `yaml:"fogs"`
	EdgesPerFog int     `yaml:"edges_per_fog"`
}

// Default returns a sensible default config for local dev: a simulated
// two-fog topology with the built-in rules and no external sinks.
func Default() *Config {
	eng := engine.DefaultConfig()
	rules := alerts.DefaultRules()

	tiers := make(map[string]alerts.RuleSet, len(rules.Tiers))
	for tier, rs := range rules.Tiers {
		tiers[tier.String()] = rs
	}
	health := make(map[string]state.HealthProfile, len(eng.Health))
	for tier, p := range eng.Health {
		health[tier.String()] = p
	}

	return &Config{
		LogLevel: "info",
		Engine: EngineConfig{
			CycleInterval: eng.CycleInterval,
			RingSize:      eng.RingSize,
			FlapWindow:    eng.FlapWindow,
			Workers:       eng.Workers,
			EMABeta:       eng.EMABeta,
			Health:        health,
		},
		Rules:    RulesConfig{Base: rules.Base, Tiers: tiers},
		Dispatch: dispatch.DefaultConfig(),
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			IngestBuffer:    10000,
			MaxBodyBytes:    1 << 20,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ReadingsTopic: "fogpulse.readings",
			AlertsTopic:   "fogpulse.alerts",
			GroupID:       "fogpulse",
			MaxPerCycle:   5000,
			PollTimeout:   500 * time.Millisecond,
			MinSeverity:   "warning",
			Producer: ProducerConfig{
				PoolSize:     4,
				BatchSize:    100,
				BatchTimeout: 10 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: -1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "fogpulse",
			MinSeverity:   "warning",
		},
		Redis: RedisConfig{
			RedisConfig: state.RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "fogpulse",
				TTL:       10 * time.Minute,
				MaxAlerts: 50,
			},
		},
		Simulation: SimulationConfig{
			Enabled:     true,
			Seed:        1,
			FaultRate:   0.05,
			Fogs:        2,
			EdgesPerFog: 3,
		},
	}
}

// Load reads a YAML file over the defaults, then applies environment
// overrides and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides a handful of deployment settings from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("FOGPULSE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("FOGPULSE_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("FOGPULSE_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("FOGPULSE_NATS_URL"); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}
	if v := os.Getenv("FOGPULSE_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if _, err := c.EngineConfig(); err != nil {
		return err
	}
	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if len(c.Topology) == 0 && (c.Simulation.Fogs <= 0 || c.Simulation.EdgesPerFog < 0) {
		return errors.New("topology is empty and no simulated topology is configured")
	}
	if c.HTTP.Addr == "" {
		return errors.New("http addr is required")
	}
	if c.Simulation.FaultRate < 0 || c.Simulation.FaultRate > 1 {
		return fmt.Errorf("simulation fault rate must be in [0, 1], got %g", c.Simulation.FaultRate)
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka: at least one broker is required")
		}
		if c.Kafka.ReadingsTopic == "" && c.Kafka.AlertsTopic == "" {
			return errors.New("kafka: readings_topic or alerts_topic is required")
		}
	}
	for name, min := range map[string]string{
		"kafka": c.Kafka.MinSeverity,
		"nats":  c.NATS.MinSeverity,
		"redis": c.Redis.MinSeverity,
	} {
		if _, err := models.ParseSeverity(min); err != nil {
			return fmt.Errorf("%s min_severity: %w", name, err)
		}
	}
	return nil
}

// AlertRules converts the rule section, resolving tier names.
func (c *Config) AlertRules() (alerts.Rules, error) {
	rules := alerts.Rules{Base: c.Rules.Base, Tiers: make(map[models.Tier]alerts.RuleSet, len(c.Rules.Tiers))}
	for name, rs := range c.Rules.Tiers {
		tier, err := models.ParseTier(name)
		if err != nil {
			return alerts.Rules{}, fmt.Errorf("rules: %w", err)
		}
		rules.Tiers[tier] = rs
	}
	return rules, nil
}

// EngineConfig builds and validates the engine configuration.
func (c *Config) EngineConfig() (engine.Config, error) {
	rules, err := c.AlertRules()
	if err != nil {
		return engine.Config{}, err
	}
	cfg := engine.Config{
		CycleInterval: c.Engine.CycleInterval,
		RingSize:      c.Engine.RingSize,
		FlapWindow:    c.Engine.FlapWindow,
		Workers:       c.Engine.Workers,
		EMABeta:       c.Engine.EMABeta,
		Rules:         rules,
	}
	if len(c.Engine.Health) > 0 {
		cfg.Health = state.DefaultHealthProfiles()
		for name, p := range c.Engine.Health {
			tier, err := models.ParseTier(name)
			if err != nil {
				return engine.Config{}, fmt.Errorf("health: %w", err)
			}
			cfg.Health[tier] = p
		}
	}
	if err := cfg.Validate(); err != nil {
		return engine.Config{}, fmt.Errorf("engine: %w", err)
	}
	return cfg, nil
}

// BuildTopology builds the configured topology, or the simulated one when
// none is listed.
func (c *Config) BuildTopology() (*topology.Topology, error) {
	specs := c.Topology
	if len(specs) == 0 {
		specs = topology.Simulated(c.Simulation.Fogs, c.Simulation.EdgesPerFog)
	}
	return topology.Build(specs)
}
