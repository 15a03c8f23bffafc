package policy

import (
	"context"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/kilianp07/dercontrol/core/model"
)

// ClockTime is a time of day without a date.
type ClockTime struct {
	Hour, Minute, Second int
}

// ParseClockTime parses "HH:MM" or "HH:MM:SS".
func ParseClockTime(s string) (ClockTime, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return ClockTime{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return ClockTime{}, fmt.Errorf("invalid clock time %q", s)
}

func (c ClockTime) offset() time.Duration {
	return time.Duration(c.Hour)*time.Hour + time.Duration(c.Minute)*time.Minute + time.Duration(c.Second)*time.Second
}

// WindowConfig is one tariff window in configuration form.
type WindowConfig struct {
	Start  string             `json:"start"`
	End    string             `json:"end"`
	Days   []string           `json:"days"`
	Limits map[string]float64 `json:"limits"`
}

// TariffConfig configures the two-way tariff policy.
type TariffConfig struct {
	Timezone string         `json:"timezone"`
	Windows  []WindowConfig `json:"windows"`
}

// Window is a daily clock window [Start, End) active on a set of weekdays.
// A window whose end precedes its start crosses midnight.
type Window struct {
	Start ClockTime
	End   ClockTime
	Days  map[time.Weekday]bool
	Limit model.InverterControlLimit
}

// Contains reports whether the local time t falls inside w. For a window
// crossing midnight the weekday is the one the window started on.
func (w Window) Contains(t time.Time) bool {
	y, m, d := t.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	since := t.Sub(midnight)
	start, end := w.Start.offset(), w.End.offset()
	switch {
	case start == end:
		return false
	case start < end:
		return since >= start && since < end && w.onDay(t.Weekday())
	case since >= start:
		return w.onDay(t.Weekday())
	case since < end:
		return w.onDay(t.AddDate(0, 0, -1).Weekday())
	}
	return false
}

func (w Window) onDay(d time.Weekday) bool {
	return len(w.Days) == 0 || w.Days[d]
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseDays(names []string) (map[time.Weekday]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make(map[time.Weekday]bool, len(names))
	for _, n := range names {
		key := strings.ToLower(n)
		if len(key) > 3 {
			key = key[:3]
		}
		d, ok := weekdays[key]
		if !ok {
			return nil, fmt.Errorf("invalid weekday %q", n)
		}
		out[d] = true
	}
	return out, nil
}

// TwoWayTariff applies limits during configured tariff windows. When several
// windows match, their limits are merged most restrictive first.
type TwoWayTariff struct {
	loc     *time.Location
	windows []Window
}

// NewTwoWayTariff builds the policy.
func NewTwoWayTariff(c TariffConfig) (*TwoWayTariff, error) {
	loc := time.UTC
	if c.Timezone != "" {
		l, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return nil, fmt.Errorf("timezone: %w", err)
		}
		loc = l
	}
	p := &TwoWayTariff{loc: loc}
	for i, wc := range c.Windows {
		start, err := ParseClockTime(wc.Start)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		end, err := ParseClockTime(wc.End)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		days, err := parseDays(wc.Days)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		l, err := parseLimits(model.SourceTwoWayTariff, wc.Limits)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		p.windows = append(p.windows, Window{Start: start, End: end, Days: days, Limit: l})
	}
	return p, nil
}

func (p *TwoWayTariff) Name() model.LimitSource { return model.SourceTwoWayTariff }

func (p *TwoWayTariff) Limit(_ context.Context, now time.Time) (model.InverterControlLimit, error) {
	local := now.In(p.loc)
	out := model.InverterControlLimit{Source: model.SourceTwoWayTariff}
	for _, w := range p.windows {
		if !w.Contains(local) {
			continue
		}
		for _, f := range w.Limit.Fields().Fields() {
			v, _ := w.Limit.Get(f)
			if cur, ok := out.Get(f); !ok || v < cur {
				out.Set(f, v)
			}
		}
	}
	return out, nil
}
