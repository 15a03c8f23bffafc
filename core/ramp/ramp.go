// Package ramp bounds the rate of change of commanded power values.
package ramp

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kilianp07/dercontrol/core/model"
)

// DefaultPercentPerSecond is the default ramp rate in percent of rated power
// per second (100 % in six minutes).
const DefaultPercentPerSecond = 0.2778

// Shape moves previous toward target by at most maxChange.
func Shape(previous, target, maxChange float64) float64 {
	delta := target - previous
	if delta == 0 {
		return target
	}
	if maxChange < 0 {
		maxChange = 0
	}
	if math.Abs(delta) <= maxChange {
		return target
	}
	return previous + math.Copysign(maxChange, delta)
}

// Config holds the shaper settings.
type Config struct {
	PercentPerSecond float64 `json:"percent_per_second" yaml:"percent_per_second"`
	Disabled         bool    `json:"disabled" yaml:"disabled"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.PercentPerSecond == 0 {
		c.PercentPerSecond = DefaultPercentPerSecond
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PercentPerSecond < 0 || c.PercentPerSecond > 100 {
		return fmt.Errorf("ramp: percent per second %.4f out of range", c.PercentPerSecond)
	}
	return nil
}

// Shaper keeps the last commanded value of every numeric field and shapes
// new targets against the time elapsed since the previous tick.
type Shaper struct {
	mu       sync.Mutex
	cfg      Config
	gradient float64
	last     map[model.ControlField]float64
	lastTick time.Time
}

// NewShaper returns a Shaper with no history.
func NewShaper(cfg Config) *Shaper {
	cfg.SetDefaults()
	return &Shaper{cfg: cfg, last: make(map[model.ControlField]float64)}
}

// SetGradient overrides the configured ramp rate with a remotely supplied
// one. A non-positive value restores the configured rate.
func (s *Shaper) SetGradient(percentPerSecond float64) {
	s.mu.Lock()
	s.gradient = percentPerSecond
	s.mu.Unlock()
}

// Rate returns the ramp rate in effect.
func (s *Shaper) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateLocked()
}

func (s *Shaper) rateLocked() float64 {
	if s.gradient > 0 {
		return s.gradient
	}
	return s.cfg.PercentPerSecond
}

// Reset forgets every previous value.
func (s *Shaper) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
}

func (s *Shaper) resetLocked() {
	s.last = make(map[model.ControlField]float64)
	s.lastTick = time.Time{}
}

// Last returns the last commanded value of f.
func (s *Shaper) Last(f model.ControlField) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.last[f]
	return v, ok
}

// Apply shapes the numeric fields of limit for a tick at now. Boolean fields
// pass through. With unknown rated power the limit passes through unshaped
// and the history is dropped. An unset target ramps back toward rated power
// and becomes unset again once reached.
func (s *Shaper) Apply(now time.Time, ratedW float64, limit model.InverterControlLimit) model.InverterControlLimit {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Disabled || ratedW <= 0 {
		s.resetLocked()
		return limit
	}

	first := s.lastTick.IsZero()
	elapsed := now.Sub(s.lastTick).Seconds()
	maxChange := s.rateLocked() / 100 * ratedW * elapsed

	out := limit
	for _, f := range model.AllFields() {
		if f.IsBool() {
			continue
		}
		target, set := limit.Get(f)
		prev, had := s.last[f]
		if first || !had {
			if set {
				s.last[f] = target
			}
			continue
		}
		if !set {
			target = ratedW
		}
		next := prev
		if elapsed > 0 {
			next = Shape(prev, target, maxChange)
		}
		if !set && next >= ratedW {
			delete(s.last, f)
			out.Clear(f)
			continue
		}
		s.last[f] = next
		out.Set(f, next)
	}

	if first || elapsed > 0 {
		s.lastTick = now
	} else if elapsed < 0 {
		// clock moved backwards; restart timing from here
		s.lastTick = now
	}
	return out
}
