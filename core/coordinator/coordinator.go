// Package coordinator runs the control loop that turns control events,
// local policies and device samples into one setpoint per tick.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/dercontrol/core/ack"
	"github.com/kilianp07/dercontrol/core/defaults"
	"github.com/kilianp07/dercontrol/core/events"
	"github.com/kilianp07/dercontrol/core/limits"
	"github.com/kilianp07/dercontrol/core/logger"
	"github.com/kilianp07/dercontrol/core/metrics"
	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/core/monitoring"
	"github.com/kilianp07/dercontrol/core/ramp"
	"github.com/kilianp07/dercontrol/core/scheduler"
	"github.com/kilianp07/dercontrol/core/setpointlog"
	"github.com/kilianp07/dercontrol/internal/eventbus"
)

// Actuator applies a setpoint to the device.
type Actuator interface {
	Apply(ctx context.Context, limit model.InverterControlLimit) error
}

// NopActuator discards setpoints.
type NopActuator struct{}

func (NopActuator) Apply(context.Context, model.InverterControlLimit) error { return nil }

// Setpoint is the outcome of one tick.
type Setpoint struct {
	Time  time.Time                  `json:"time"`
	Limit model.InverterControlLimit `json:"limit"`
	// Remote is the limit derived from control events and default control.
	Remote       model.InverterControlLimit                 `json:"remote"`
	Constrainers map[model.ControlField][]model.LimitSource `json:"constrainers,omitempty"`
	Winners      map[model.ControlField]string              `json:"winners,omitempty"`
	RatedPowerW  float64                                    `json:"rated_power_w"`
	Applied      bool                                       `json:"applied"`
	Err          error                                      `json:"-"`
}

// Deps groups the collaborators of a Coordinator. Only Schedules and Acks
// are required.
type Deps struct {
	Schedules *scheduler.Set
	Acks      *ack.Protocol
	Defaults  *defaults.Cache
	Shaper    *ramp.Shaper
	Sources   []limits.Source
	Actuator  Actuator
	Metrics   metrics.MetricsSink
	Log       setpointlog.Store

	Setpoints *eventbus.TypedBus[events.SetpointEvent]
	Changes   *eventbus.TypedBus[events.ScheduleChangeEvent]
	Programs  *eventbus.TypedBus[events.ProgramEvent]
}

// Coordinator owns the control loop.
type Coordinator struct {
	cfg  Config
	caps model.FieldSet
	deps Deps
	log  logger.Logger
	now  func() time.Time

	// tickMu serializes ticks and program ingestion.
	tickMu  sync.Mutex
	winners map[model.ControlField]model.EffectiveSchedule
	started map[string]ack.Target
	ratedW  float64

	mu   sync.RWMutex
	last *Setpoint
}

// New creates a coordinator. Missing optional collaborators are replaced by
// no-op implementations.
func New(cfg Config, deps Deps, log logger.Logger) (*Coordinator, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Schedules == nil {
		deps.Schedules = scheduler.NewSet(scheduler.Config{}, log)
	}
	if deps.Acks == nil {
		return nil, ack.ErrNoSender
	}
	if deps.Defaults == nil {
		c, err := defaults.NewCache(context.Background(), defaults.NewMemoryStore())
		if err != nil {
			return nil, err
		}
		deps.Defaults = c
	}
	if deps.Shaper == nil {
		deps.Shaper = ramp.NewShaper(ramp.Config{})
	}
	if deps.Actuator == nil {
		deps.Actuator = NopActuator{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NopSink{}
	}
	if deps.Log == nil {
		deps.Log = setpointlog.NopStore{}
	}
	return &Coordinator{
		cfg:     cfg,
		caps:    cfg.FieldSet(),
		deps:    deps,
		log:     log,
		now:     time.Now,
		winners: make(map[model.ControlField]model.EffectiveSchedule),
		started: make(map[string]ack.Target),
		ratedW:  cfg.RatedPowerW,
	}, nil
}

// Run processes input messages until the context is canceled. Device samples
// always trigger a tick; site samples do when configured.
func (c *Coordinator) Run(ctx context.Context, in Inputs) {
	defer monitoring.Recover("coordinator")
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-in.Devices:
			if !ok {
				in.Devices = nil
				continue
			}
			c.ObserveDevice(s)
			c.Tick(ctx, c.tickTime(s.Time))
		case s, ok := <-in.Sites:
			if !ok {
				in.Sites = nil
				continue
			}
			c.ObserveSite(s)
			if *c.cfg.TickOnSiteSample {
				c.Tick(ctx, c.tickTime(s.Time))
			}
		case u, ok := <-in.Programs:
			if !ok {
				in.Programs = nil
				continue
			}
			if u.Remove {
				c.RemoveProgram(ctx, u.Program.ID)
			} else {
				c.UpdateProgram(ctx, u.Program, u.Events)
			}
		case dc, ok := <-in.Defaults:
			if !ok {
				in.Defaults = nil
				continue
			}
			if err := c.UpdateDefaultControl(ctx, dc); err != nil {
				c.log.Errorf("default control applied but not persisted: %v", err)
			}
		case g, ok := <-in.Gradients:
			if !ok {
				in.Gradients = nil
				continue
			}
			c.deps.Shaper.SetGradient(g)
			c.log.Infof("ramp gradient set to %.4f %%/s", c.deps.Shaper.Rate())
		}
	}
}

func (c *Coordinator) tickTime(t time.Time) time.Time {
	if t.IsZero() {
		return c.now()
	}
	return t
}

// ObserveDevice records the nameplate rating and forwards the sample to
// the metrics sink.
func (c *Coordinator) ObserveDevice(s model.DeviceSample) {
	c.tickMu.Lock()
	if s.RatedPowerW > 0 {
		c.ratedW = s.RatedPowerW
	}
	c.tickMu.Unlock()
	if r, ok := c.deps.Metrics.(metrics.SampleRecorder); ok {
		_ = r.RecordSample(metrics.SampleRecord{
			DeviceID:     s.DeviceID,
			ActivePowerW: s.ActivePowerW,
			RatedPowerW:  s.RatedPowerW,
			VoltageV:     s.VoltageV,
			FrequencyHz:  s.FrequencyHz,
			Time:         s.Time,
		})
	}
}

// ObserveSite forwards a site reading to the metrics sink.
func (c *Coordinator) ObserveSite(s model.SiteSample) {
	if r, ok := c.deps.Metrics.(metrics.SampleRecorder); ok {
		_ = r.RecordSample(metrics.SampleRecord{
			Site:         true,
			ActivePowerW: s.NetPowerW,
			VoltageV:     s.VoltageV,
			FrequencyHz:  s.FrequencyHz,
			Time:         s.Time,
		})
	}
}

// UpdateDefaultControl persists dc and uses it from the next tick on.
func (c *Coordinator) UpdateDefaultControl(ctx context.Context, dc model.DefaultControl) error {
	if dc.UpdatedAt.IsZero() {
		dc.UpdatedAt = c.now()
	}
	return c.deps.Defaults.Update(ctx, dc)
}

// ControlSchedules lists the effective schedules of a field.
func (c *Coordinator) ControlSchedules(f model.ControlField) []model.EffectiveSchedule {
	return c.deps.Schedules.ControlSchedules(f)
}

// LastSetpoint returns the result of the most recent tick.
func (c *Coordinator) LastSetpoint() (Setpoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return Setpoint{}, false
	}
	return *c.last, true
}

// Capabilities returns the fields emitted to the actuator.
func (c *Coordinator) Capabilities() model.FieldSet { return c.caps }
