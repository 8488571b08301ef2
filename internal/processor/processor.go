package processor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fogpulse/internal/bus"
	"fogpulse/internal/config"
	"fogpulse/internal/dispatch"
	"fogpulse/internal/engine"
	"fogpulse/internal/handlers"
	"fogpulse/internal/kafka"
	"fogpulse/internal/logger"
	"fogpulse/internal/middleware"
	"fogpulse/internal/simulate"
	"fogpulse/internal/source"
	"fogpulse/internal/state"
	"fogpulse/internal/topology"
	"fogpulse/internal/websocket"
)

// Processor wires the monitoring engine to its reading sources, alert
// subscribers, and HTTP surface.
type Processor struct {
	cfg    *config.Config
	topo   *topology.Topology
	router *dispatch.Router
	engine *engine.Engine
	buffer *source.Buffer
	hub    *websocket.Hub
	cache  *state.RedisCache

	sources []engine.Source
	closers []func() error

	httpServer *http.Server
	listener   net.Listener
	ready      chan struct{}
	readyOnce  sync.Once
	wg         sync.WaitGroup
}

// New builds the in-process components. External sources and subscribers
// are connected by Run.
func New(cfg *config.Config) (*Processor, error) {
	topo, err := cfg.BuildTopology()
	if err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}
	engCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	router, err := dispatch.NewRouter(cfg.Dispatch, topo)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	eng, err := engine.New(engCfg, topo, router)
	if err != nil {
		return nil, err
	}

	p := &Processor{
		cfg:    cfg,
		topo:   topo,
		router: router,
		engine: eng,
		buffer: source.NewBuffer(cfg.HTTP.IngestBuffer),
		hub:    websocket.NewHub(router),
		ready:  make(chan struct{}),
	}
	p.sources = append(p.sources, p.buffer)
	if cfg.Simulation.Enabled {
		p.sources = append(p.sources, simulate.New(topo.Nodes(), simulate.Config{
			Seed:      cfg.Simulation.Seed,
			FaultRate: cfg.Simulation.FaultRate,
		}))
	}
	return p, nil
}

// Run connects external sinks, starts the HTTP server and the engine, and
// blocks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Int("nodes", p.topo.Len()).Msg("processor starting")
	defer p.markReady()

	if err := p.connect(ctx); err != nil {
		log.Error().Err(err).Msg("failed to connect external services")
		p.closeAll()
		return err
	}

	ln, err := net.Listen("tcp", p.cfg.HTTP.Addr)
	if err != nil {
		p.closeAll()
		return fmt.Errorf("failed to listen on %s: %w", p.cfg.HTTP.Addr, err)
	}
	p.listener = ln
	p.httpServer = &http.Server{
		Handler:      p.Handler(),
		ReadTimeout:  p.cfg.HTTP.ReadTimeout,
		WriteTimeout: p.cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Info().Str("addr", ln.Addr().String()).Msg("starting HTTP server")
		if err := p.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := p.engine.Run(ctx, engine.MultiSource(p.sources...)); err != nil {
			log.Error().Err(err).Msg("engine stopped with error")
		}
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats(ctx)
	}()

	p.markReady()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	<-engineDone

	return p.shutdown()
}

func (p *Processor) markReady() { p.readyOnce.Do(func() { close(p.ready) }) }

// Addr blocks until Run is serving and returns the HTTP listen address. It
// returns "" if Run failed to start.
func (p *Processor) Addr() string {
	<-p.ready
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// connect opens the configured Kafka, NATS and Redis endpoints.
func (p *Processor) connect(ctx context.Context) error {
	cfg := p.cfg

	if cfg.Kafka.Enabled && cfg.Kafka.ReadingsTopic != "" {
		consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.ReadingsTopic,
			GroupID:     cfg.Kafka.GroupID,
			MaxPerCycle: cfg.Kafka.MaxPerCycle,
			PollTimeout: cfg.Kafka.PollTimeout,
		})
		if err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		p.sources = append(p.sources, consumer)
		p.closers = append(p.closers, consumer.Close)
	}

	if cfg.Kafka.Enabled && cfg.Kafka.AlertsTopic != "" {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AlertsTopic, cfg.Kafka.Producer)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		p.closers = append(p.closers, producer.Close)
		if err := p.subscribe(producer, cfg.Kafka.MinSeverity); err != nil {
			return err
		}
	}

	if cfg.NATS.Enabled {
		pub, err := bus.NewPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		p.closers = append(p.closers, func() error { pub.Close(); return nil })
		if err := p.subscribe(pub, cfg.NATS.MinSeverity); err != nil {
			return err
		}
	}

	if cfg.Redis.Enabled {
		cache, err := state.NewRedisCache(ctx, cfg.Redis.RedisConfig)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		p.cache = cache
		p.closers = append(p.closers, cache.Close)
		if err := p.subscribe(cache, cfg.Redis.MinSeverity); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) subscribe(sub dispatch.Subscriber, minSeverity string) error {
	filter, err := dispatch.ParseFilter(minSeverity, "")
	if err != nil {
		return fmt.Errorf("%s: %w", sub.ID(), err)
	}
	return p.router.Register(sub, filter)
}

// Handler returns the HTTP routes.
func (p *Processor) Handler() http.Handler {
	status := handlers.NewStatusHandler(p.engine, p.router).WithRoots(p.topo.Roots())
	if p.cache != nil {
		status.WithSummaryCache(p.cache)
	}
	ingest := handlers.NewIngestHandler(handlers.IngestConfig{
		Sink:        p.buffer,
		MaxBodySize: p.cfg.HTTP.MaxBodyBytes,
	})

	r := chi.NewRouter()
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)

	r.Get("/health", status.Health)
	r.Get("/status", status.Status)
	r.Get("/status/scopes", status.Scopes)
	r.Get("/status/scopes/{scopeID}", status.Scope)
	r.Get("/status/nodes/{nodeID}", status.Node)
	r.Get("/subscribers", status.Subscribers)
	r.Method(http.MethodPost, "/ingest", ingest)
	r.Method(http.MethodGet, "/ws", p.hub)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// shutdown performs graceful shutdown
func (p *Processor) shutdown() error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), p.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	// 1. Stop accepting new HTTP requests and disconnect dashboards
	log.Info().Msg("stopping HTTP server")
	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	p.hub.Close()

	// 2. Drain queued alerts to the subscribers
	log.Info().Msg("closing dispatch router")
	if err := p.router.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("router did not drain before the shutdown timeout")
	}

	// 3. Close sinks and sources
	p.closeAll()

	// 4. Wait for all goroutines
	p.wg.Wait()

	log.Info().Msg("processor stopped gracefully")
	return nil
}

func (p *Processor) closeAll() {
	log := logger.WithComponent("processor")
	for _, closeFn := range p.closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}
	p.closers = nil
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := p.engine.Snapshot()

			ev := log.Info().
				Uint64("cycle", snap.Cycle).
				Int("buffered", p.buffer.Len()).
				Uint64("buffer_dropped", p.buffer.Dropped()).
				Int("websocket_clients", p.hub.Len())
			for _, s := range p.router.Stats() {
				ev = ev.Uint64(s.ID+".delivered", s.Delivered).Uint64(s.ID+".failed", s.Failed)
			}
			ev.Msg("stats")
		}
	}
}
