// Package app wires the dispatch components into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/easycab/dispatch/config"
	"github.com/easycab/dispatch/core/broker"
	"github.com/easycab/dispatch/core/ingest"
	"github.com/easycab/dispatch/core/match"
	coremetrics "github.com/easycab/dispatch/core/metrics"
	"github.com/easycab/dispatch/core/registry"
	"github.com/easycab/dispatch/infra/gateway"
	"github.com/easycab/dispatch/infra/logger"
	"github.com/easycab/dispatch/infra/metrics"
	"github.com/easycab/dispatch/infra/mqtt"
	"github.com/easycab/dispatch/infra/replica"
	"github.com/easycab/dispatch/internal/eventbus"
)

// Service orchestrates the dispatch server: broker session, ingest
// pipeline, rider gateway (primary role) and state replication.
type Service struct {
	cfg      *config.Config
	log      logger.Logger
	manager  *mqtt.Manager
	bus      *eventbus.Bus
	reg      *registry.Registry
	counters *registry.Counters
	ingestor *ingest.Ingestor
	repl     *replica.Replicator
	gw       *gateway.Gateway // nil for the replica role
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	log := logger.New("service")

	manager, err := mqtt.NewManager(cfg.MQTT, logger.New("broker"))
	if err != nil {
		return nil, fmt.Errorf("broker manager: %w", err)
	}

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(cfg.Metrics))
	}
	var sink coremetrics.Sink = coremetrics.NopSink{}
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	bus := eventbus.New()
	reg := registry.New(cfg.Grid, bus, logger.New("registry"))
	counters := registry.NewCounters()
	ingestor := ingest.New(reg, counters, manager, sink, logger.New("ingest"))

	// Only the primary publishes the replication feed. The nil check is
	// done here on the concrete type so the replicator sees a true nil
	// interface, not a typed nil.
	var feed broker.Publisher
	if cfg.Role == config.RolePrimary {
		feed = manager
	}
	repl := replica.New(cfg.Snapshot, reg, counters, feed, bus, logger.New("replica"))

	svc := &Service{
		cfg:      cfg,
		log:      log,
		manager:  manager,
		bus:      bus,
		reg:      reg,
		counters: counters,
		ingestor: ingestor,
		repl:     repl,
	}
	if cfg.Role == config.RolePrimary {
		engine := match.New(reg, counters, manager, bus, sink, logger.New("match"),
			time.Duration(cfg.Match.DeadlineS)*time.Second,
			time.Duration(cfg.Match.RecheckMS)*time.Millisecond)
		svc.gw = gateway.New(engine, counters, sink, logger.New("gateway"))
	}
	return svc, nil
}

// Run starts the service and blocks until the context is cancelled or a
// fatal startup error occurs.
func (s *Service) Run(ctx context.Context) error {
	if err := s.repl.LoadState(); err != nil {
		s.log.Warnf("could not restore previous state: %v", err)
	}

	// Unable to reach any configured broker is fatal at startup; later
	// failures are handled by endpoint rotation.
	if err := s.manager.Start(ctx); err != nil {
		return err
	}
	if err := s.ingestor.Bind(s.manager); err != nil {
		return fmt.Errorf("subscribe taxi topics: %w", err)
	}
	if s.cfg.Role == config.RoleReplica {
		if err := s.repl.BindSync(s.manager); err != nil {
			return fmt.Errorf("subscribe sync topic: %w", err)
		}
	}
	if s.gw != nil {
		// A port we cannot bind is fatal too.
		if err := s.gw.Listen(s.cfg.Gateway.Port); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.manager.Run(ctx) })
	g.Go(func() error { return s.ingestor.Run(ctx) })
	g.Go(func() error { return s.repl.Run(ctx) })
	if s.gw != nil {
		g.Go(func() error { return s.gw.Run(ctx) })
	}
	if s.cfg.Metrics.PrometheusEnabled {
		g.Go(func() error { return metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort) })
	}

	s.log.Infof("dispatch server running (role %s, grid %dx%d)", s.cfg.Role, s.cfg.Grid.N, s.cfg.Grid.M)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.manager.Close()
	s.bus.Close()
	return nil
}
