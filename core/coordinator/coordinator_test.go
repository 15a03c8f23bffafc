package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dercontrol/core/ack"
	"github.com/kilianp07/dercontrol/core/events"
	"github.com/kilianp07/dercontrol/core/limits"
	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/core/ramp"
	"github.com/kilianp07/dercontrol/core/setpointlog"
	"github.com/kilianp07/dercontrol/infra/logger"
	"github.com/kilianp07/dercontrol/internal/eventbus"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type sent struct {
	mrid   string
	status ack.Status
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recordingSender) SendResponse(_ context.Context, resp ack.Response) error {
	r.mu.Lock()
	r.sent = append(r.sent, sent{resp.MRID, resp.Status})
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) statuses(mrid string) []ack.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ack.Status
	for _, s := range r.sent {
		if s.mrid == mrid {
			out = append(out, s.status)
		}
	}
	return out
}

type recordingActuator struct {
	mu      sync.Mutex
	applied []model.InverterControlLimit
	err     error
}

func (a *recordingActuator) Apply(_ context.Context, l model.InverterControlLimit) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.applied = append(a.applied, l)
	return nil
}

type memLog struct {
	mu   sync.Mutex
	recs []setpointlog.Record
}

func (m *memLog) Append(_ context.Context, r setpointlog.Record) error {
	m.mu.Lock()
	m.recs = append(m.recs, r)
	m.mu.Unlock()
	return nil
}
func (m *memLog) Query(context.Context, setpointlog.Query) ([]setpointlog.Record, error) {
	return nil, nil
}
func (m *memLog) Close() error { return nil }

type staticSource struct {
	name  model.LimitSource
	limit model.InverterControlLimit
}

func (s staticSource) Name() model.LimitSource { return s.name }
func (s staticSource) Limit(context.Context, time.Time) (model.InverterControlLimit, error) {
	return s.limit, nil
}

type harness struct {
	c      *Coordinator
	sender *recordingSender
	act    *recordingActuator
	log    *memLog
}

func newHarness(t *testing.T, cfg Config, deps Deps) *harness {
	t.Helper()
	ResetMetrics(prometheus.NewRegistry())
	h := &harness{sender: &recordingSender{}, act: &recordingActuator{}, log: &memLog{}}
	p, err := ack.NewProtocol(ack.Config{}, h.sender, logger.NopLogger{})
	require.NoError(t, err)
	deps.Acks = p
	deps.Actuator = h.act
	deps.Log = h.log
	c, err := New(cfg, deps, logger.NopLogger{})
	require.NoError(t, err)
	c.now = func() time.Time { return base }
	h.c = c
	return h
}

func event(mrid string, created, start time.Time, dur int64, values model.ControlValues) model.ControlEvent {
	return model.ControlEvent{
		MRID:             mrid,
		CreationTime:     created,
		Interval:         model.Interval{Start: start, DurationSeconds: dur},
		Values:           values,
		ResponseRequired: model.ResponseFull,
		ReplyTo:          "/rsps/1",
	}
}

func export(l model.InverterControlLimit) (float64, bool) { return l.Get(model.FieldExportLimit) }

func TestTickPrimacyScenario(t *testing.T) {
	h := newHarness(t, Config{}, Deps{})
	ctx := context.Background()
	e1 := event("E1", base.Add(100*time.Second), base, 100, model.ControlValues{model.FieldExportLimit: 0})
	e2 := event("E2", base.Add(50*time.Second), base, 100, model.ControlValues{model.FieldExportLimit: 5000})
	h.c.UpdateProgram(ctx, model.Program{ID: "p1", Primacy: 1}, []model.ControlEvent{e1})
	h.c.UpdateProgram(ctx, model.Program{ID: "p2", Primacy: 2}, []model.ControlEvent{e2})

	sp := h.c.Tick(ctx, base.Add(10*time.Second))
	v, ok := export(sp.Limit)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
	assert.Equal(t, "E1", sp.Winners[model.FieldExportLimit])
	assert.True(t, sp.Applied)
	assert.Equal(t, []model.LimitSource{model.SourceCSIP}, sp.Constrainers[model.FieldExportLimit])

	assert.Equal(t, []ack.Status{ack.EventReceived, ack.EventStarted}, h.sender.statuses("E1"))
	assert.Equal(t, []ack.Status{ack.EventReceived}, h.sender.statuses("E2"))
	require.Len(t, h.act.applied, 1)
	require.Len(t, h.log.recs, 1)
	assert.Equal(t, "E1", h.log.recs[0].Winners[model.FieldExportLimit])
}

func TestTickRepeatedEvaluationAcknowledgesOnce(t *testing.T) {
	h := newHarness(t, Config{}, Deps{})
	ctx := context.Background()
	e := event("E1", base, base, 600, model.ControlValues{model.FieldExportLimit: 1000, model.FieldConnect: 1})
	h.c.UpdateProgram(ctx, model.Program{ID: "p", Primacy: 1}, []model.ControlEvent{e})
	h.c.UpdateProgram(ctx, model.Program{ID: "p", Primacy: 1, Version: 2}, []model.ControlEvent{e})
	for i := 0; i < 20; i++ {
		h.c.Tick(ctx, base.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, []ack.Status{ack.EventReceived, ack.EventStarted}, h.sender.statuses("E1"))
}

func TestTickDefaultControlFallback(t *testing.T) {
	h := newHarness(t, Config{}, Deps{})
	ctx := context.Background()

	sp := h.c.Tick(ctx, base)
	_, ok := export(sp.Limit)
	assert.False(t, ok, "no event and no default means no limit")

	require.NoError(t, h.c.UpdateDefaultControl(ctx, model.DefaultControl{Values: model.ControlValues{model.FieldExportLimit: 3000}}))
	sp = h.c.Tick(ctx, base.Add(time.Second))
	v, ok := export(sp.Limit)
	require.True(t, ok)
	assert.Equal(t, 3000.0, v)
	assert.Empty(t, sp.Winners)

	e := event("E1", base, base, 60, model.ControlValues{model.FieldExportLimit: 1500})
	h.c.UpdateProgram(ctx, model.Program{ID: "p", Primacy: 1}, []model.ControlEvent{e})
	sp = h.c.Tick(ctx, base.Add(2*time.Second))
	v, _ = export(sp.Limit)
	assert.Equal(t, 1500.0, v)
	assert.False(t, h.c.deps.Defaults.Get().UpdatedAt.IsZero())
}

func TestTickMergesPolicySources(t *testing.T) {
	sources := []limits.Source{
		staticSource{name: model.SourceFixed, limit: model.InverterControlLimit{ExportLimitW: model.Ptr(5000.0)}},
		staticSource{name: model.SourceNegativePrice, limit: model.InverterControlLimit{ExportLimitW: model.Ptr(0.0)}},
		staticSource{name: model.SourceTwoWayTariff},
	}
	h := newHarness(t, Config{}, Deps{Sources: sources})
	ctx := context.Background()
	e := event("E1", base, base, 60, model.ControlValues{model.FieldExportLimit: 2000, model.FieldEnergize: 1})
	h.c.UpdateProgram(ctx, model.Program{ID: "p", Primacy: 1}, []model.ControlEvent{e})

	sp := h.c.Tick(ctx, base)
	v, _ := export(sp.Limit)
	assert.Equal(t, 0.0, v)
	assert.Equal(t, []model.LimitSource{model.SourceNegativePrice}, sp.Constrainers[model.FieldExportLimit])
	require.NotNil(t, sp.Limit.Energize)
	assert.True(t, *sp.Limit.Energize)
	assert.Equal(t, 2000.0, *sp.Remote.ExportLimitW)
	assert.Equal(t, model.SourceAggregate, sp.Limit.Source)
}

func TestTickRestrictsToCapabilities(t *testing.T) {
	h := newHarness(t, Config{Capabilities: []string{"export_limit"}}, Deps{})
	ctx := context.Background()
	e := event("E1", base, base, 60, model.ControlValues{model.FieldExportLimit: 2000, model.FieldGenerationLimit: 4000})
	h.c.UpdateProgram(ctx, model.Program{ID: "p", Primacy: 1}, []model.ControlEvent{e})

	sp := h.c.Tick(ctx, base)
	assert.Equal(t, model.NewFieldSet(model.FieldExportLimit), sp.Limit.Fields())
	_, ok := sp.Constrainers[model.FieldGenerationLimit]
	assert.False(t, ok)
	assert.Equal(t, model.NewFieldSet(model.FieldExportLimit), h.c.Capabilities())
}

func TestTickCompletedAndSuperseded(t *testing.T) {
	h := newHarness(t, Config{}, Deps{})
	ctx := context.Background()
	low := event("LOW", base, base, 300, model.ControlValues{model.FieldExportLimit: 4000})
	h.c.UpdateProgram(ctx, model.Program{ID: "p2", Primacy: 2}, []model.ControlEvent{low})
	h.c.Tick(ctx, base)

	high := event("HIGH", base, base.Add(10*time.Second), 20, model.ControlValues{model.FieldExportLimit: 1000})
	h.c.UpdateProgram(ctx, model.Program{ID: "p1", Primacy: 1}, []model.ControlEvent{high})
	sp := h.c.Tick(ctx, base.Add(15*time.Second))
	assert.Equal(t, "HIGH", sp.Winners[model.FieldExportLimit])
	assert.Equal(t, []ack.Status{ack.EventReceived, ack.EventStarted, ack.EventSuperseded}, h.sender.statuses("LOW"))

	// HIGH ends at base+30s; LOW wins again but was already started once
	sp = h.c.Tick(ctx, base.Add(30*time.Second))
	assert.Equal(t, "LOW", sp.Winners[model.FieldExportLimit])
	assert.Equal(t, []ack.Status{ack.EventReceived, ack.EventStarted, ack.EventCompleted}, h.sender.statuses("HIGH"))
	assert.Equal(t, []ack.Status{ack.EventReceived, ack.EventStarted, ack.EventSuperseded}, h.sender.statuses("LOW"))

	h.c.Tick(ctx, base.Add(300*time.Second))
	assert.Equal(t, []ack.Status{ack.EventReceived, ack.EventStarted, ack.EventSuperseded, ack.EventCompleted}, h.sender.statuses("LOW"))
}

func TestProgramRemovalCancelsEvents(t *testing.T) {
	h := newHarness(t, Config{}, Deps{})
	ctx := context.Background()
	a := event("A", base, base, 600, model.ControlValues{model.FieldExportLimit: 1000})
	b := event("B", base, base.Add(time.Hour), 600, model.ControlValues{model.FieldExportLimit: 2000})
	old := event("OLD", base.Add(-2*time.Hour), base.Add(-2*time.Hour), 60, model.ControlValues{model.FieldExportLimit: 10})
	h.c.UpdateProgram(ctx, model.Program{ID: "p", Primacy: 1}, []model.ControlEvent{a, b, old})
	h.c.Tick(ctx, base.Add(time.Second))

	// B disappears from the list before it starts
	h.c.UpdateProgram(ctx, model.Program{ID: "p", Primacy: 1, Version: 2}, []model.ControlEvent{a, old})
	assert.Equal(t, []ack.Status{ack.EventReceived, ack.EventCancelled}, h.sender.statuses("B"))

	h.c.RemoveProgram(ctx, "p")
	assert.Equal(t, []ack.Status{ack.EventReceived, ack.EventStarted, ack.EventCancelled}, h.sender.statuses("A"))
	assert.Equal(t, []ack.Status{ack.EventReceived}, h.sender.statuses("OLD"), "finished events are not cancelled")

	sp := h.c.Tick(ctx, base.Add(2*time.Second))
	assert.Empty(t, sp.Winners)
	assert.Equal(t, []ack.Status{ack.EventReceived, ack.EventStarted, ack.EventCancelled}, h.sender.statuses("A"))
}

func TestRemovingEndedStartedEventCompletes(t *testing.T) {
	h := newHarness(t, Config{}, Deps{})
	ctx := context.Background()
	a := event("A", base.Add(-3*time.Minute), base.Add(-2*time.Minute), 60, model.ControlValues{model.FieldExportLimit: 1000})
	h.c.UpdateProgram(ctx, model.Program{ID: "p", Primacy: 1}, []model.ControlEvent{a})
	h.c.Tick(ctx, base.Add(-90*time.Second))

	// A ended at base-60s but no tick ran before the refresh
	h.c.UpdateProgram(ctx, model.Program{ID: "p", Primacy: 1, Version: 2}, nil)
	assert.Equal(t, []ack.Status{ack.EventReceived, ack.EventStarted, ack.EventCompleted}, h.sender.statuses("A"))

	h.c.Tick(ctx, base)
	assert.Equal(t, []ack.Status{ack.EventReceived, ack.EventStarted, ack.EventCompleted}, h.sender.statuses("A"))
}

func TestUpdateProgramReportsInvalidEvents(t *testing.T) {
	h := newHarness(t, Config{}, Deps{})
	bad := event("BAD", base, base, -1, model.ControlValues{model.FieldExportLimit: 1})
	good := event("GOOD", base, base, 60, model.ControlValues{model.FieldExportLimit: 1})
	errs := h.c.UpdateProgram(context.Background(), model.Program{ID: "p", Primacy: 1}, []model.ControlEvent{bad, good})
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], model.ErrInvalidEvent)
	assert.Empty(t, h.sender.statuses("BAD"))
	assert.Len(t, h.c.ControlSchedules(model.FieldExportLimit), 1)
}

func TestTickRampsWithRatedPower(t *testing.T) {
	h := newHarness(t, Config{}, Deps{Shaper: ramp.NewShaper(ramp.Config{PercentPerSecond: 1})})
	ctx := context.Background()
	h.c.ObserveDevice(model.DeviceSample{DeviceID: "inv", RatedPowerW: 10000})
	require.NoError(t, h.c.UpdateDefaultControl(ctx, model.DefaultControl{Values: model.ControlValues{model.FieldExportLimit: 8000}}))
	h.c.Tick(ctx, base)

	e := event("E1", base, base, 600, model.ControlValues{model.FieldExportLimit: 0})
	h.c.UpdateProgram(ctx, model.Program{ID: "p", Primacy: 1}, []model.ControlEvent{e})
	sp := h.c.Tick(ctx, base.Add(2*time.Second))
	v, _ := export(sp.Limit)
	assert.InDelta(t, 7800, v, 1e-9)
	assert.Equal(t, 0.0, *sp.Remote.ExportLimitW)
	assert.Equal(t, 10000.0, sp.RatedPowerW)
}

func TestTickActuatorFailure(t *testing.T) {
	h := newHarness(t, Config{}, Deps{})
	h.act.err = errors.New("gateway offline")
	sp := h.c.Tick(context.Background(), base)
	assert.False(t, sp.Applied)
	require.Error(t, sp.Err)
	require.Len(t, h.log.recs, 1)
	assert.Equal(t, "gateway offline", h.log.recs[0].Error)
	last, ok := h.c.LastSetpoint()
	require.True(t, ok)
	assert.False(t, last.Applied)
}

func TestTickPublishesEvents(t *testing.T) {
	setpoints := eventbus.NewTyped[events.SetpointEvent]()
	changes := eventbus.NewTyped[events.ScheduleChangeEvent]()
	programs := eventbus.NewTyped[events.ProgramEvent]()
	spCh := setpoints.SubscribeBuffered(4)
	chCh := changes.SubscribeBuffered(4)
	prCh := programs.SubscribeBuffered(4)
	h := newHarness(t, Config{}, Deps{Setpoints: setpoints, Changes: changes, Programs: programs})
	ctx := context.Background()

	e := event("E1", base, base, 60, model.ControlValues{model.FieldExportLimit: 100})
	h.c.UpdateProgram(ctx, model.Program{ID: "p", Primacy: 1}, []model.ControlEvent{e})
	h.c.Tick(ctx, base)

	pe := <-prCh
	assert.Equal(t, events.ProgramEvent{ProgramID: "p", Accepted: 1}, pe)
	ce := <-chCh
	assert.Equal(t, model.FieldExportLimit, ce.Field)
	assert.Equal(t, "", ce.PreviousMRID)
	assert.Equal(t, "E1", ce.MRID)
	se := <-spCh
	assert.True(t, se.Applied)
}

func TestRunProcessesInputs(t *testing.T) {
	h := newHarness(t, Config{}, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	ch := NewChannels(4)
	done := make(chan struct{})
	go func() {
		h.c.Run(ctx, ch.Inputs())
		close(done)
	}()

	e := event("E1", base, base, 600, model.ControlValues{model.FieldExportLimit: 250})
	ch.Programs <- ProgramUpdate{Program: model.Program{ID: "p", Primacy: 1}, Events: []model.ControlEvent{e}}
	require.Eventually(t, func() bool {
		return len(h.c.ControlSchedules(model.FieldExportLimit)) == 1
	}, time.Second, 5*time.Millisecond)
	ch.Gradients <- 0.5
	require.Eventually(t, func() bool { return h.c.deps.Shaper.Rate() == 0.5 }, time.Second, 5*time.Millisecond)

	ch.Devices <- model.DeviceSample{DeviceID: "inv", Time: base.Add(time.Second), RatedPowerW: 5000}
	require.Eventually(t, func() bool {
		sp, ok := h.c.LastSetpoint()
		return ok && sp.Winners[model.FieldExportLimit] == "E1"
	}, time.Second, 5*time.Millisecond)

	ch.Sites <- model.SiteSample{Time: base.Add(2 * time.Second), NetPowerW: -1200}
	require.Eventually(t, func() bool {
		sp, _ := h.c.LastSetpoint()
		return sp.Time.Equal(base.Add(2 * time.Second))
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Capabilities: []string{"export_limit", "bogus"}}
	assert.Error(t, cfg.Validate())
	cfg = Config{RatedPowerW: -1}
	assert.Error(t, cfg.Validate())
	cfg = Config{}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	assert.True(t, *cfg.TickOnSiteSample)
	assert.Equal(t, model.AllFieldSet(), cfg.FieldSet())
}
