// Package bridge assembles the full service: catalogs, transports, the
// pipeline, the event log and the ingress adapter, wired from one loaded
// configuration. The service owns component lifecycle and shutdown order;
// the components themselves stay ignorant of each other.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/PopoGonry/iot-data-bridge/catalog"
	"github.com/PopoGonry/iot-data-bridge/config"
	"github.com/PopoGonry/iot-data-bridge/errors"
	"github.com/PopoGonry/iot-data-bridge/eventlog"
	"github.com/PopoGonry/iot-data-bridge/input/ingress"
	"github.com/PopoGonry/iot-data-bridge/message"
	"github.com/PopoGonry/iot-data-bridge/metric"
	"github.com/PopoGonry/iot-data-bridge/natsclient"
	"github.com/PopoGonry/iot-data-bridge/pipeline"
	"github.com/PopoGonry/iot-data-bridge/pkg/retry"
	"github.com/PopoGonry/iot-data-bridge/transport"
	"github.com/PopoGonry/iot-data-bridge/transport/natspub"
	"github.com/PopoGonry/iot-data-bridge/transport/wshub"
)

// Service is the assembled bridge.
type Service struct {
	config config.Config
	logger *slog.Logger

	registry     *metric.MetricsRegistry
	metricServer *metric.Server

	nats     *natsclient.Client
	hub      *wshub.Client // nil when no device uses the hub transport
	eventLog *eventlog.Log
	pipeline *pipeline.Pipeline
	ingress  *ingress.Adapter

	mapper     *pipeline.Mapper
	resolver   *pipeline.Resolver
	dispatcher *pipeline.Dispatcher

	mappings *catalog.MappingCatalog
	devices  *catalog.DeviceCatalog

	started atomic.Bool
}

// New loads the catalogs and builds every component. Nothing connects
// until Start; a New error always means bad configuration or catalogs.
func New(cfg config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mappings, err := catalog.LoadMappingCatalog(cfg.Catalogs.MappingPath)
	if err != nil {
		return nil, err
	}
	devices, err := catalog.LoadDeviceCatalog(cfg.Catalogs.DevicePath)
	if err != nil {
		return nil, err
	}
	logger.Info("catalogs loaded",
		"mapping_rules", mappings.Len(),
		"objects", devices.Objects())

	needsHub := devices.UsesTransport(message.TransportHub)
	if needsHub && cfg.Hub.Endpoint == "" {
		return nil, errors.WrapFatal(
			fmt.Errorf("device catalog contains hub devices but hub.endpoint is not set: %w",
				errors.ErrMissingConfig),
			"Service", "New", "transport validation")
	}

	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()

	nats, err := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithLogger(logger.With("component", "natsclient")),
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password),
		natsclient.WithToken(cfg.NATS.Token),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()),
		natsclient.WithTimeout(cfg.NATS.ConnectTimeout.Std()),
		natsclient.WithDisconnectHandler(func(error) {
			metrics.NATSConnected.Set(0)
		}),
		natsclient.WithReconnectHandler(func() {
			metrics.NATSConnected.Set(1)
			metrics.NATSReconnects.Inc()
		}),
	)
	if err != nil {
		return nil, err
	}

	registryT := transport.NewRegistry()
	broker := natspub.NewPublisher(natspub.PublisherDeps{
		NATSClient:  nats,
		Logger:      logger.With("component", "natspub"),
		SendTimeout: cfg.Dispatch.SendTimeout.Std(),
	})
	if err := registryT.Register(message.TransportNATS, broker); err != nil {
		return nil, err
	}

	var hub *wshub.Client
	if needsHub {
		hub = wshub.NewClient(wshub.ClientDeps{
			Config: wshub.ClientConfig{
				Endpoint:     cfg.Hub.Endpoint,
				SendTimeout:  cfg.Hub.SendTimeout.Std(),
				PingInterval: cfg.Hub.PingInterval.Std(),
				DialTimeout:  cfg.Hub.DialTimeout.Std(),
			},
			Logger: logger.With("component", "wshub"),
		})
		hub.OnStateChange(func(connected bool) {
			if connected {
				metrics.HubConnected.Set(1)
			} else {
				metrics.HubConnected.Set(0)
			}
		})
		if err := registryT.Register(message.TransportHub, hub); err != nil {
			return nil, err
		}
	}

	eventLog := eventlog.NewLog(eventlog.Deps{
		Config: eventlog.Config{
			Path:       cfg.EventLog.Path,
			MaxSizeMB:  cfg.EventLog.MaxSizeMB,
			MaxBackups: cfg.EventLog.MaxBackups,
			MaxAgeDays: cfg.EventLog.MaxAgeDays,
			Compress:   cfg.EventLog.Compress,
			BufferSize: cfg.EventLog.BufferSize,
		},
		Logger:  logger.With("component", "eventlog"),
		Metrics: metrics,
	})

	mapper, err := pipeline.NewMapper(pipeline.MapperDeps{
		Catalog:   mappings,
		Logger:    logger.With("component", "mapper"),
		Registrar: registry,
	})
	if err != nil {
		return nil, err
	}
	resolver, err := pipeline.NewResolver(pipeline.ResolverDeps{
		Catalog:   devices,
		Logger:    logger.With("component", "resolver"),
		Registrar: registry,
	})
	if err != nil {
		return nil, err
	}
	dispatcher, err := pipeline.NewDispatcher(pipeline.DispatcherDeps{
		Registry:    registryT,
		Logger:      logger.With("component", "dispatcher"),
		SendTimeout: cfg.Dispatch.SendTimeout.Std(),
		Registrar:   registry,
	})
	if err != nil {
		return nil, err
	}

	pipe := pipeline.New(pipeline.Deps{
		Mapper:     mapper,
		Resolver:   resolver,
		Dispatcher: dispatcher,
		Recorder:   eventLog,
		Logger:     logger.With("component", "pipeline"),
		Metrics:    metrics,
	})

	in := ingress.NewAdapter(ingress.Deps{
		Config:     ingress.Config{Subject: cfg.Ingress.Subject},
		NATSClient: nats,
		Pipeline:   pipe,
		Logger:     logger.With("component", "ingress"),
		Metrics:    metrics,
	})

	var metricServer *metric.Server
	if cfg.Metrics.Enabled {
		metricServer = metric.NewServer(cfg.Metrics.Port, "/metrics", registry)
	}

	return &Service{
		config:       cfg,
		logger:       logger,
		registry:     registry,
		metricServer: metricServer,
		nats:         nats,
		hub:          hub,
		eventLog:     eventLog,
		pipeline:     pipe,
		ingress:      in,
		mapper:       mapper,
		resolver:     resolver,
		dispatcher:   dispatcher,
		mappings:     mappings,
		devices:      devices,
	}, nil
}

// Start brings components up in dependency order: sinks before
// transports, transports before ingress. A failure rolls back whatever
// already started.
func (s *Service) Start(ctx context.Context) error {
	if s.started.Load() {
		return nil
	}

	if err := s.eventLog.Initialize(); err != nil {
		return err
	}
	if err := s.eventLog.Start(ctx); err != nil {
		return err
	}

	if err := s.connectNATS(ctx); err != nil {
		s.stopStarted(nil)
		return err
	}

	if s.hub != nil {
		if err := s.hub.Initialize(); err != nil {
			s.stopStarted(nil)
			return err
		}
		if err := s.hub.Start(ctx); err != nil {
			s.stopStarted(nil)
			return err
		}
	}

	if err := s.ingress.Initialize(); err != nil {
		s.stopStarted(nil)
		return err
	}
	if err := s.ingress.Start(ctx); err != nil {
		s.stopStarted(nil)
		return err
	}

	if s.metricServer != nil {
		if err := s.metricServer.Start(); err != nil {
			s.stopStarted(nil)
			return err
		}
		s.logger.Info("metrics server started", "port", s.config.Metrics.Port)
	}

	s.started.Store(true)
	s.logger.Info("bridge started",
		"ingress_subject", s.config.Ingress.Subject,
		"hub_enabled", s.hub != nil)
	return nil
}

// connectNATS establishes the broker connection with backoff and waits
// until it is usable.
func (s *Service) connectNATS(ctx context.Context) error {
	connect := func() error {
		return s.nats.Connect(ctx)
	}
	if err := retry.Do(ctx, retry.DefaultConfig(), connect); err != nil {
		return errors.WrapTransient(err, "Service", "Start", "broker connect")
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.config.NATS.ConnectTimeout.Std())
	defer cancel()
	if err := s.nats.WaitForConnection(waitCtx); err != nil {
		return errors.WrapTransient(err, "Service", "Start", "broker readiness")
	}

	s.registry.CoreMetrics().NATSConnected.Set(1)
	s.logger.Info("broker connected", "url", s.config.NATS.URL)
	return nil
}

// Stop shuts down in reverse order: stop accepting, drain in-flight
// fan-outs within the grace period, then tear transports and sinks down.
// Every component gets its chance to stop; the first error is reported.
func (s *Service) Stop() error {
	if !s.started.Load() {
		return nil
	}
	s.started.Store(false)

	grace := s.config.Shutdown.GracePeriod.Std()
	s.logger.Info("bridge stopping", "grace_period", grace)

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(s.ingress.Stop(grace))

	if err := s.pipeline.Drain(grace); err != nil {
		s.logger.Warn("in-flight events not drained within grace period", "error", err)
		keep(err)
	}

	s.stopStarted(keep)

	mapped, unmapped, castErrs := s.mapper.Counts()
	resolved, noTargets := s.resolver.Counts()
	sent, failed := s.dispatcher.Counts()
	s.logger.Info("bridge stopped",
		"mapped", mapped,
		"unmapped", unmapped,
		"cast_failures", castErrs,
		"resolved", resolved,
		"no_targets", noTargets,
		"sent", sent,
		"failed", failed)
	return firstErr
}

// stopStarted tears down transports and sinks. Used by both Stop and
// the Start rollback path, where keep is nil and errors only get logged.
func (s *Service) stopStarted(keep func(error)) {
	if keep == nil {
		keep = func(err error) {
			if err != nil {
				s.logger.Warn("component stop failed during rollback", "error", err)
			}
		}
	}

	if s.hub != nil {
		keep(s.hub.Stop(5 * time.Second))
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	keep(s.nats.Close(closeCtx))
	cancel()
	s.registry.CoreMetrics().NATSConnected.Set(0)

	keep(s.eventLog.Stop(5 * time.Second))

	if s.metricServer != nil {
		keep(s.metricServer.Stop())
	}
}

// Run starts the service and blocks until the context is cancelled, then
// stops it.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return s.Stop()
}
