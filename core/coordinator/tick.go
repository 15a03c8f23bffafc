package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/dercontrol/core/ack"
	"github.com/kilianp07/dercontrol/core/events"
	"github.com/kilianp07/dercontrol/core/limits"
	"github.com/kilianp07/dercontrol/core/metrics"
	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/core/monitoring"
	"github.com/kilianp07/dercontrol/core/setpointlog"
)

// Tick resolves, merges, shapes and applies the setpoint for now.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) Setpoint {
	start := time.Now()
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	ticksTotal.Inc()

	resolved := c.deps.Schedules.Resolve(now)
	remote, winners := c.remoteLimit(resolved)
	c.acknowledgeTransitions(ctx, now, resolved)

	partials := append([]model.InverterControlLimit{remote}, limits.Collect(ctx, now, c.deps.Sources, c.log)...)
	merged := limits.Merge(partials)
	limit := merged.Limit.Restrict(c.caps)
	for f := range merged.Constrainers {
		if !c.caps.Has(f) {
			delete(merged.Constrainers, f)
		}
	}
	shaped := c.deps.Shaper.Apply(now, c.ratedW, limit)

	sp := Setpoint{
		Time:         now,
		Limit:        shaped,
		Remote:       remote,
		Constrainers: merged.Constrainers,
		Winners:      winners,
		RatedPowerW:  c.ratedW,
	}
	if err := c.deps.Actuator.Apply(ctx, shaped); err != nil {
		sp.Err = err
		actuationFailures.Inc()
		c.log.Errorf("apply setpoint %s: %v", shaped, err)
		monitoring.CaptureException(fmt.Errorf("apply setpoint: %w", err), map[string]string{"component": "coordinator"})
	} else {
		sp.Applied = true
	}
	c.publish(ctx, sp, time.Since(start))
	return sp
}

// remoteLimit builds the csip limit from the winning schedules, falling back
// to default control for fields without an active event.
func (c *Coordinator) remoteLimit(resolved map[model.ControlField]model.EffectiveSchedule) (model.InverterControlLimit, map[model.ControlField]string) {
	remote := model.InverterControlLimit{Source: model.SourceCSIP}
	winners := make(map[model.ControlField]string, len(resolved))
	for _, f := range model.AllFields() {
		if sc, ok := resolved[f]; ok {
			remote.Set(f, sc.Value)
			winners[f] = sc.MRID
			continue
		}
		if v, ok := c.deps.Defaults.Value(f); ok {
			remote.Set(f, v)
		}
	}
	return remote, winners
}

// acknowledgeTransitions compares the winners with those of the previous
// tick. An event winning any field is started. An event that stopped
// winning every field is completed when its window is over and superseded
// otherwise.
func (c *Coordinator) acknowledgeTransitions(ctx context.Context, now time.Time, resolved map[model.ControlField]model.EffectiveSchedule) {
	current := make(map[string]model.EffectiveSchedule, len(resolved))
	for _, f := range model.AllFields() {
		sc, ok := resolved[f]
		prev, had := c.winners[f]
		if ok {
			current[sc.MRID] = sc
		}
		if ok != had || sc.MRID != prev.MRID {
			c.scheduleChanged(f, prev.MRID, sc.MRID, now)
		}
	}
	c.winners = resolved

	for id, sc := range current {
		if _, ok := c.started[id]; ok {
			continue
		}
		t := ack.TargetOf(sc)
		c.started[id] = t
		c.deps.Acks.Acknowledge(ctx, t, ack.EventStarted)
	}
	for id, t := range c.started {
		if _, ok := current[id]; ok {
			continue
		}
		delete(c.started, id)
		status := ack.EventSuperseded
		if c.ended(id, now) {
			status = ack.EventCompleted
		}
		c.deps.Acks.Acknowledge(ctx, t, status)
	}
}

// ended reports whether no schedule of mrid is active or pending at now.
// Pruned events count as ended.
func (c *Coordinator) ended(mrid string, now time.Time) bool {
	for _, f := range model.AllFields() {
		for _, sc := range c.deps.Schedules.ControlSchedules(f) {
			if sc.MRID == mrid && now.Before(sc.EffectiveEnd) {
				return false
			}
		}
	}
	return true
}

func (c *Coordinator) scheduleChanged(f model.ControlField, prev, cur string, now time.Time) {
	c.log.Infof("%s winner changed from %q to %q", f, prev, cur)
	if c.deps.Changes != nil {
		c.deps.Changes.Publish(events.ScheduleChangeEvent{Field: f, PreviousMRID: prev, MRID: cur, Time: now})
	}
}

func (c *Coordinator) publish(ctx context.Context, sp Setpoint, latency time.Duration) {
	if err := c.deps.Metrics.RecordSetpoint(metrics.SetpointRecord{
		Time:         sp.Time,
		Limit:        sp.Limit,
		Constrainers: sp.Constrainers,
		RatedPowerW:  sp.RatedPowerW,
		Applied:      sp.Applied,
		Latency:      latency,
	}); err != nil {
		c.log.Warnf("record setpoint metrics: %v", err)
	}
	rec := setpointlog.Record{
		Timestamp:    sp.Time,
		Limit:        sp.Limit,
		Remote:       sp.Remote,
		Constrainers: sp.Constrainers,
		Winners:      sp.Winners,
		RatedPowerW:  sp.RatedPowerW,
		Applied:      sp.Applied,
	}
	if sp.Err != nil {
		rec.Error = sp.Err.Error()
	}
	if err := c.deps.Log.Append(ctx, rec); err != nil {
		c.log.Warnf("append setpoint log: %v", err)
	}
	if c.deps.Setpoints != nil {
		c.deps.Setpoints.Publish(events.SetpointEvent{
			Time:         sp.Time,
			Limit:        sp.Limit,
			Constrainers: sp.Constrainers,
			Applied:      sp.Applied,
		})
	}
	c.mu.Lock()
	c.last = &sp
	c.mu.Unlock()
	c.log.Debugw("setpoint", map[string]any{
		"limit":   sp.Limit.String(),
		"rated_w": sp.RatedPowerW,
		"applied": sp.Applied,
	})
}
