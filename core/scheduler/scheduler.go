package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/dercontrol/core/model"
)

// DefaultPruneAfter is how long an expired schedule is retained.
const DefaultPruneAfter = time.Hour

// FieldScheduler holds the effective schedules of every event constraining
// one control field, keyed by program.
type FieldScheduler struct {
	field      model.ControlField
	jitter     Jitter
	pruneAfter time.Duration

	mu        sync.Mutex
	byProgram map[string][]model.EffectiveSchedule
}

// NewFieldScheduler creates an empty scheduler for field.
func NewFieldScheduler(field model.ControlField, jitter Jitter, pruneAfter time.Duration) *FieldScheduler {
	if pruneAfter <= 0 {
		pruneAfter = DefaultPruneAfter
	}
	return &FieldScheduler{
		field:      field,
		jitter:     jitter,
		pruneAfter: pruneAfter,
		byProgram:  make(map[string][]model.EffectiveSchedule),
	}
}

// Field returns the control field handled by s.
func (s *FieldScheduler) Field() model.ControlField { return s.field }

// Effective computes the effective schedule of ev for this field. The second
// return value is false when ev does not constrain the field.
func (s *FieldScheduler) Effective(ev model.ControlEvent) (model.EffectiveSchedule, bool) {
	v, ok := ev.Values[s.field]
	if !ok {
		return model.EffectiveSchedule{}, false
	}
	startOff := s.jitter.Pick(ev.MRID, "start", ev.RandomizeStart)
	durOff := s.jitter.Pick(ev.MRID, "duration", ev.RandomizeDuration)
	start := ev.Interval.Start.Add(time.Duration(startOff) * time.Second)
	dur := time.Duration(ev.Interval.DurationSeconds+int64(durOff)) * time.Second
	if dur < 0 {
		dur = 0
	}
	sched := model.EffectiveSchedule{
		MRID:             ev.MRID,
		CreationTime:     ev.CreationTime,
		EffectiveStart:   start,
		EffectiveEnd:     start.Add(dur),
		Value:            v,
		ResponseRequired: ev.ResponseRequired,
		ReplyTo:          ev.ReplyTo,
	}
	if ev.Program != nil {
		sched.ProgramID = ev.Program.ID
		sched.ProgramPrimacy = ev.Program.Primacy
	}
	return sched, true
}

// SetProgramEvents replaces every schedule of programID with the schedules
// derived from events. Events not constraining the field are ignored.
func (s *FieldScheduler) SetProgramEvents(programID string, events []model.ControlEvent) {
	scheds := make([]model.EffectiveSchedule, 0, len(events))
	for _, ev := range events {
		if sched, ok := s.Effective(ev); ok {
			scheds = append(scheds, sched)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(scheds) == 0 {
		delete(s.byProgram, programID)
		return
	}
	s.byProgram[programID] = scheds
}

// RemoveProgram drops every schedule of programID.
func (s *FieldScheduler) RemoveProgram(programID string) {
	s.mu.Lock()
	delete(s.byProgram, programID)
	s.mu.Unlock()
}

// Resolve returns the schedule that wins at now, or false when no event is
// active for the field.
func (s *FieldScheduler) Resolve(now time.Time) (model.EffectiveSchedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)

	var (
		best  model.EffectiveSchedule
		found bool
	)
	for _, scheds := range s.byProgram {
		for _, sc := range scheds {
			if !sc.ActiveAt(now) {
				continue
			}
			if !found || outranks(sc, best) {
				best = sc
				found = true
			}
		}
	}
	return best, found
}

// outranks orders candidates: lower primacy, then newer creation time, then
// lower mRID, then lower program ID.
func outranks(a, b model.EffectiveSchedule) bool {
	if a.ProgramPrimacy != b.ProgramPrimacy {
		return a.ProgramPrimacy < b.ProgramPrimacy
	}
	if !a.CreationTime.Equal(b.CreationTime) {
		return a.CreationTime.After(b.CreationTime)
	}
	if a.MRID != b.MRID {
		return a.MRID < b.MRID
	}
	return a.ProgramID < b.ProgramID
}

func (s *FieldScheduler) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.pruneAfter)
	for id, scheds := range s.byProgram {
		kept := scheds[:0]
		for _, sc := range scheds {
			if sc.EffectiveEnd.After(cutoff) {
				kept = append(kept, sc)
			}
		}
		if len(kept) == 0 {
			delete(s.byProgram, id)
			continue
		}
		s.byProgram[id] = kept
	}
}

// ControlSchedules returns a copy of all known schedules sorted by effective
// start. It is a diagnostic view and plays no part in resolution.
func (s *FieldScheduler) ControlSchedules() []model.EffectiveSchedule {
	s.mu.Lock()
	out := make([]model.EffectiveSchedule, 0)
	for _, scheds := range s.byProgram {
		out = append(out, scheds...)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EffectiveStart.Equal(out[j].EffectiveStart) {
			return out[i].EffectiveStart.Before(out[j].EffectiveStart)
		}
		return out[i].MRID < out[j].MRID
	})
	return out
}
