package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/dercontrol/api"
	"github.com/kilianp07/dercontrol/config"
	"github.com/kilianp07/dercontrol/core/ack"
	"github.com/kilianp07/dercontrol/core/coordinator"
	"github.com/kilianp07/dercontrol/core/defaults"
	"github.com/kilianp07/dercontrol/core/events"
	coremetrics "github.com/kilianp07/dercontrol/core/metrics"
	"github.com/kilianp07/dercontrol/core/monitoring"
	coremqtt "github.com/kilianp07/dercontrol/core/mqtt"
	"github.com/kilianp07/dercontrol/core/policy"
	"github.com/kilianp07/dercontrol/core/ramp"
	"github.com/kilianp07/dercontrol/core/scheduler"
	"github.com/kilianp07/dercontrol/core/setpointlog"
	"github.com/kilianp07/dercontrol/infra/logger"
	"github.com/kilianp07/dercontrol/infra/metrics"
	infmon "github.com/kilianp07/dercontrol/infra/monitoring"
	"github.com/kilianp07/dercontrol/infra/mqtt"
	"github.com/kilianp07/dercontrol/infra/price"
	"github.com/kilianp07/dercontrol/infra/store"
	"github.com/kilianp07/dercontrol/infra/sunspec"
	"github.com/kilianp07/dercontrol/internal/eventbus"
)

// Service wires the coordinator to its feeds, actuator and sinks.
type Service struct {
	cfg         *config.Config
	log         logger.Logger
	Coordinator *coordinator.Coordinator
	channels    coordinator.Channels

	client    *mqtt.PahoClient
	published *policy.Published
	prices    *price.Poller
	sampler   *sunspec.Sampler
	sink      coremetrics.MetricsSink
	setpoints setpointlog.Store
	defaults  defaults.Store

	acks      *eventbus.TypedBus[events.AckEvent]
	changes   *eventbus.TypedBus[events.ScheduleChangeEvent]
	spEvents  *eventbus.TypedBus[events.SetpointEvent]
	programEv *eventbus.TypedBus[events.ProgramEvent]
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	cfg.SetDefaults()
	if err := logger.Configure(cfg.Logging); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	logg := logger.New("service")

	mon, err := infmon.NewSentryMonitor(cfg.Sentry, cfg.Device.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	monitoring.Init(mon)

	s := &Service{
		cfg:       cfg,
		log:       logg,
		channels:  coordinator.NewChannels(cfg.Device.Buffer),
		published: policy.NewPublished(),
		acks:      eventbus.NewTyped[events.AckEvent](),
		changes:   eventbus.NewTyped[events.ScheduleChangeEvent](),
		spEvents:  eventbus.NewTyped[events.SetpointEvent](),
		programEv: eventbus.NewTyped[events.ProgramEvent](),
	}
	if err := s.build(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) build() error {
	cfg := s.cfg

	var (
		client   coremqtt.Client
		sender   ack.Sender
		ackAfter time.Duration
	)
	if cfg.MQTT.Broker == "" {
		s.log.Warnf("no mqtt broker configured, limits and acknowledgements are only logged")
		rec := mqtt.NewRecordingClient()
		client, sender = rec, rec
	} else {
		pc, err := mqtt.NewPahoClient(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("mqtt client: %w", err)
		}
		s.client = pc
		client, sender = pc, pc
		if cfg.MQTT.CommandAckTimeoutMS > 0 {
			if err := pc.WatchCommandAcks(cfg.Device.DeviceID); err != nil {
				return fmt.Errorf("watch command acks: %w", err)
			}
			ackAfter = time.Duration(cfg.MQTT.CommandAckTimeoutMS) * time.Millisecond
		}
	}

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return fmt.Errorf("metrics sink: %w", err)
	}
	s.sink = sink

	if s.setpoints, err = setpointlog.New(cfg.SetpointLog); err != nil {
		return fmt.Errorf("setpoint log: %w", err)
	}

	if cfg.Store.Path != "" {
		if s.defaults, err = store.NewSQLiteStore(cfg.Store.Path); err != nil {
			return fmt.Errorf("default control store: %w", err)
		}
	} else {
		s.defaults = defaults.NewMemoryStore()
	}
	cache, err := defaults.NewCache(context.Background(), s.defaults)
	if err != nil {
		return fmt.Errorf("load default control: %w", err)
	}

	env := policy.Env{Published: s.published}
	if cfg.Price.Enabled {
		var auth *price.ClientCred
		if cfg.Price.Auth.ClientID != "" {
			auth = price.NewClientCred(cfg.Price.Auth)
		}
		pc := price.NewClient(cfg.Price.URL, auth, time.Duration(cfg.Price.TimeoutSeconds)*time.Second)
		s.prices = price.NewPoller(cfg.Price, pc, logger.New("price"))
		env.Prices = s.prices
	}
	sources, err := policy.Build(cfg.Policies, env)
	if err != nil {
		return err
	}

	protocol, err := ack.NewProtocol(cfg.Ack, sender, logger.New("ack"))
	if err != nil {
		return fmt.Errorf("ack protocol: %w", err)
	}
	protocol.SetBus(s.acks)

	if cfg.Modbus.Enabled {
		s.sampler = sunspec.NewSampler(cfg.Modbus, cfg.Device.DeviceID, logger.New("sunspec"))
	}

	s.Coordinator, err = coordinator.New(cfg.Device, coordinator.Deps{
		Schedules: scheduler.NewSet(cfg.Control.Scheduler, logger.New("scheduler")),
		Acks:      protocol,
		Defaults:  cache,
		Shaper:    ramp.NewShaper(cfg.Control.Ramp),
		Sources:   sources,
		Actuator:  coremqtt.Actuator{Client: client, DeviceID: cfg.Device.DeviceID, AckTimeout: ackAfter},
		Metrics:   sink,
		Log:       s.setpoints,
		Setpoints: s.spEvents,
		Changes:   s.changes,
		Programs:  s.programEv,
	}, logger.New("coordinator"))
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	return nil
}

// Run starts every feed and the control loop and blocks until the context
// is canceled.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				s.log.Errorf("%s: %v", name, err)
				monitoring.CaptureException(err, map[string]string{"component": name})
			}
		}()
	}

	metrics.StartEventCollector(ctx, s.acks, s.changes, s.sink)

	if s.client != nil {
		feeds := mqtt.NewFeeds(ctx, s.channels, s.published)
		if err := feeds.Subscribe(s.client, s.cfg.MQTT.Topics); err != nil {
			return fmt.Errorf("mqtt feeds: %w", err)
		}
	}
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		spawn("prometheus", func(ctx context.Context) error { return metrics.StartPromServer(ctx, addr) })
	}
	if s.cfg.API.Enabled {
		deps := api.Deps{Controller: s.Coordinator, Setpoints: s.setpoints}
		if s.prices != nil {
			deps.Prices = s.prices
		}
		mux := api.NewMux(deps, s.cfg.API.Token)
		spawn("api", func(ctx context.Context) error { return api.Serve(ctx, s.cfg.API.Addr, mux) })
	}
	if s.prices != nil {
		spawn("price", func(ctx context.Context) error { s.prices.Run(ctx); return nil })
	}
	if s.sampler != nil {
		spawn("sunspec", func(ctx context.Context) error { s.sampler.Run(ctx, s.channels.Devices); return nil })
	}
	if path := s.cfg.Control.EventsFile; path != "" {
		feed := newFileFeed(path, time.Duration(s.cfg.Control.EventsReloadSeconds)*time.Second, s.channels, logger.New("event_file"))
		spawn("event_file", func(ctx context.Context) error { feed.Run(ctx); return nil })
	}

	s.log.Infof("control loop started for %s", s.cfg.Device.DeviceID)
	s.Coordinator.Run(ctx, s.channels.Inputs())
	wg.Wait()
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errs []error
	if s.client != nil {
		s.client.Disconnect()
	}
	if s.setpoints != nil {
		errs = append(errs, s.setpoints.Close())
	}
	if s.defaults != nil {
		errs = append(errs, s.defaults.Close())
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	s.acks.Close()
	s.changes.Close()
	s.spEvents.Close()
	s.programEv.Close()
	monitoring.Flush(2 * time.Second)
	return errors.Join(errs...)
}
