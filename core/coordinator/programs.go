package coordinator

import (
	"context"
	"time"

	"github.com/kilianp07/dercontrol/core/ack"
	"github.com/kilianp07/dercontrol/core/events"
	"github.com/kilianp07/dercontrol/core/model"
)

// UpdateProgram ingests the full event list of a program. Every accepted
// event is acknowledged as received. Events that disappeared before their
// end are cancelled. It returns the validation errors of rejected events.
func (c *Coordinator) UpdateProgram(ctx context.Context, p model.Program, evs []model.ControlEvent) []error {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	var previous []model.ControlEvent
	if pe, ok := c.deps.Schedules.Program(p.ID); ok {
		previous = pe.Events
	}
	accepted, errs := c.deps.Schedules.UpdateProgram(p, evs)
	rejectedEvents.Add(float64(len(errs)))

	kept := make(map[string]struct{}, len(accepted))
	for _, ev := range accepted {
		kept[ev.MRID] = struct{}{}
		c.deps.Acks.Acknowledge(ctx, ack.TargetOfEvent(ev), ack.EventReceived)
	}
	now := c.now()
	for _, ev := range previous {
		if _, ok := kept[ev.MRID]; ok {
			continue
		}
		c.cancel(ctx, ev, now)
	}
	if c.deps.Programs != nil {
		c.deps.Programs.Publish(events.ProgramEvent{ProgramID: p.ID, Accepted: len(accepted), Rejected: len(errs)})
	}
	c.log.Infof("program %s v%d: %d events accepted, %d rejected", p.ID, p.Version, len(accepted), len(errs))
	return errs
}

// RemoveProgram drops a program and cancels its unfinished events.
func (c *Coordinator) RemoveProgram(ctx context.Context, id string) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	removed := c.deps.Schedules.RemoveProgram(id)
	now := c.now()
	for _, ev := range removed {
		c.cancel(ctx, ev, now)
	}
	if c.deps.Programs != nil {
		c.deps.Programs.Publish(events.ProgramEvent{ProgramID: id, Removed: true})
	}
	c.log.Infof("program %s removed with %d events", id, len(removed))
}

// cancel acknowledges an event that left the schedule. A started event whose
// window already ended is completed rather than cancelled.
func (c *Coordinator) cancel(ctx context.Context, ev model.ControlEvent, now time.Time) {
	t, wasStarted := c.started[ev.MRID]
	delete(c.started, ev.MRID)
	if !now.Before(c.deps.Schedules.EffectiveEnd(ev)) {
		if wasStarted {
			c.deps.Acks.Acknowledge(ctx, t, ack.EventCompleted)
		}
		return
	}
	c.deps.Acks.Acknowledge(ctx, ack.TargetOfEvent(ev), ack.EventCancelled)
}
