package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/dercontrol/core/logger"
	"github.com/kilianp07/dercontrol/core/model"
)

// Config holds scheduler settings.
type Config struct {
	// PruneAfterSeconds keeps expired schedules for this long before dropping them.
	PruneAfterSeconds int `json:"prune_after_seconds" yaml:"prune_after_seconds"`
	// JitterSeed fixes the randomization seed. Zero picks a random seed.
	JitterSeed uint64 `json:"jitter_seed" yaml:"jitter_seed"`
}

// ProgramEvents is the full event list of one program.
type ProgramEvents struct {
	Program model.Program
	Events  []model.ControlEvent
}

// Set owns one FieldScheduler per known control field.
type Set struct {
	mu       sync.RWMutex
	fields   [model.NumFields]*FieldScheduler
	programs map[string]ProgramEvents
	log      logger.Logger
}

// NewSet builds the schedulers for every field.
func NewSet(cfg Config, log logger.Logger) *Set {
	jitter := NewJitter()
	if cfg.JitterSeed != 0 {
		jitter = NewSeededJitter(cfg.JitterSeed)
	}
	prune := time.Duration(cfg.PruneAfterSeconds) * time.Second
	s := &Set{programs: make(map[string]ProgramEvents), log: log}
	for _, f := range model.AllFields() {
		s.fields[f] = NewFieldScheduler(f, jitter, prune)
	}
	return s
}

// Field returns the scheduler of f, or nil for an unknown field.
func (s *Set) Field(f model.ControlField) *FieldScheduler {
	if !f.Valid() {
		return nil
	}
	return s.fields[f]
}

// EffectiveEnd returns the latest effective end of ev over the fields it
// constrains. It is the nominal end when ev constrains no known field.
func (s *Set) EffectiveEnd(ev model.ControlEvent) time.Time {
	var end time.Time
	found := false
	for f := range ev.Values {
		fs := s.Field(f)
		if fs == nil {
			continue
		}
		if sc, ok := fs.Effective(ev); ok && (!found || sc.EffectiveEnd.After(end)) {
			end = sc.EffectiveEnd
			found = true
		}
	}
	if !found {
		return ev.EndTime()
	}
	return end
}

// UpdateProgram replaces the events of a program. Invalid events are
// rejected and reported; the remaining ones are applied to every field while
// holding the set lock so that no resolution sees a partial refresh.
func (s *Set) UpdateProgram(p model.Program, events []model.ControlEvent) ([]model.ControlEvent, []error) {
	prog := p
	accepted := make([]model.ControlEvent, 0, len(events))
	var errs []error
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		ev.Program = &prog
		ev.Values = ev.Values.Clone()
		if err := ev.Validate(); err != nil {
			errs = append(errs, err)
			s.log.Warnf("program %s: rejecting event: %v", p.ID, err)
			continue
		}
		if _, dup := seen[ev.MRID]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate mRID %s", model.ErrInvalidEvent, ev.MRID))
			s.log.Warnf("program %s: duplicate event %s ignored", p.ID, ev.MRID)
			continue
		}
		seen[ev.MRID] = struct{}{}
		accepted = append(accepted, ev)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fs := range s.fields {
		fs.SetProgramEvents(p.ID, accepted)
	}
	s.programs[p.ID] = ProgramEvents{Program: prog, Events: accepted}
	s.log.Debugw("program events updated", map[string]any{
		"program":  p.ID,
		"version":  p.Version,
		"accepted": len(accepted),
		"rejected": len(errs),
	})
	return accepted, errs
}

// RemoveProgram forgets a program and returns the events it held.
func (s *Set) RemoveProgram(id string) []model.ControlEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	pe, ok := s.programs[id]
	if !ok {
		return nil
	}
	for _, fs := range s.fields {
		fs.RemoveProgram(id)
	}
	delete(s.programs, id)
	return pe.Events
}

// Program returns the stored events of a program.
func (s *Set) Program(id string) (ProgramEvents, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pe, ok := s.programs[id]
	return pe, ok
}

// Programs lists the known programs ordered by primacy then ID.
func (s *Set) Programs() []model.Program {
	s.mu.RLock()
	out := make([]model.Program, 0, len(s.programs))
	for _, pe := range s.programs {
		out = append(out, pe.Program)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Primacy != out[j].Primacy {
			return out[i].Primacy < out[j].Primacy
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Resolve returns the winning schedule of every field that has one at now.
func (s *Set) Resolve(now time.Time) map[model.ControlField]model.EffectiveSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.ControlField]model.EffectiveSchedule)
	for _, fs := range s.fields {
		if sc, ok := fs.Resolve(now); ok {
			out[fs.Field()] = sc
		}
	}
	return out
}

// ControlSchedules returns the diagnostic schedule list of f.
func (s *Set) ControlSchedules(f model.ControlField) []model.EffectiveSchedule {
	fs := s.Field(f)
	if fs == nil {
		return nil
	}
	return fs.ControlSchedules()
}
