package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/dercontrol/core/model"
)

// Fixture is a file representation of programs and their events. It feeds
// the schedules command and the file event feed.
type Fixture struct {
	Programs []ProgramFixture `json:"programs" yaml:"programs"`
}

// ProgramFixture describes one program and its events.
type ProgramFixture struct {
	ID             string             `json:"id" yaml:"id"`
	Primacy        int                `json:"primacy" yaml:"primacy"`
	Description    string             `json:"description" yaml:"description"`
	Version        int                `json:"version" yaml:"version"`
	DefaultControl map[string]float64 `json:"default_control" yaml:"default_control"`
	Events         []EventFixture     `json:"events" yaml:"events"`
}

// EventFixture describes one control event.
type EventFixture struct {
	MRID              string             `json:"mrid" yaml:"mrid"`
	CreationTime      time.Time          `json:"creation_time" yaml:"creation_time"`
	Start             time.Time          `json:"start" yaml:"start"`
	DurationSeconds   int64              `json:"duration_seconds" yaml:"duration_seconds"`
	RandomizeStart    *int               `json:"randomize_start" yaml:"randomize_start"`
	RandomizeDuration *int               `json:"randomize_duration" yaml:"randomize_duration"`
	ResponseRequired  string             `json:"response_required" yaml:"response_required"`
	ReplyTo           string             `json:"reply_to" yaml:"reply_to"`
	Values            map[string]float64 `json:"values" yaml:"values"`
}

// LoadEvents loads a Fixture from a JSON or YAML file.
func LoadEvents(path string) (Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fixture{}, err
	}
	defer func() { _ = f.Close() }()
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "yaml", "yml", "json":
	default:
		return Fixture{}, fmt.Errorf("unsupported fixture format: %s", filepath.Ext(path))
	}
	return DecodeEvents(f, ext)
}

// DecodeEvents reads a Fixture from r.
func DecodeEvents(r io.Reader, format string) (Fixture, error) {
	var fx Fixture
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&fx); err != nil {
			return fx, fmt.Errorf("decode yaml fixture: %w", err)
		}
	case "json":
		if err := json.NewDecoder(r).Decode(&fx); err != nil {
			return fx, fmt.Errorf("decode json fixture: %w", err)
		}
	default:
		return fx, fmt.Errorf("unsupported format: %s", format)
	}
	return fx, nil
}

// ParseValues converts named field values into ControlValues.
func ParseValues(named map[string]float64) (model.ControlValues, error) {
	if len(named) == 0 {
		return nil, nil
	}
	out := make(model.ControlValues, len(named))
	for name, v := range named {
		f, err := model.ParseControlField(name)
		if err != nil {
			return nil, err
		}
		out[f] = v
	}
	return out, nil
}

// ProgramEvents converts the fixture into program event lists. An event that
// cannot be converted is left out of its program and reported in the joined
// error, each part wrapping model.ErrInvalidEvent. The returned programs are
// usable even when the error is not nil.
func (fx Fixture) ProgramEvents() ([]ProgramEvents, error) {
	out := make([]ProgramEvents, 0, len(fx.Programs))
	var errs []error
	for _, pf := range fx.Programs {
		prog := model.Program{ID: pf.ID, Primacy: pf.Primacy, Description: pf.Description, Version: pf.Version}
		pe := ProgramEvents{Program: prog}
		for _, ef := range pf.Events {
			ev, err := ef.toEvent(prog)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: program %s event %s: %v", model.ErrInvalidEvent, pf.ID, ef.MRID, err))
				continue
			}
			pe.Events = append(pe.Events, ev)
		}
		out = append(out, pe)
	}
	return out, errors.Join(errs...)
}

// DefaultControl merges the default controls of all programs. Programs are
// visited in file order; a later program does not override an earlier one.
func (fx Fixture) DefaultControl() (model.DefaultControl, bool, error) {
	dc := model.DefaultControl{Values: model.ControlValues{}}
	for _, pf := range fx.Programs {
		vals, err := ParseValues(pf.DefaultControl)
		if err != nil {
			return model.DefaultControl{}, false, fmt.Errorf("program %s default control: %w", pf.ID, err)
		}
		for f, v := range vals {
			if _, ok := dc.Values[f]; !ok {
				dc.Values[f] = v
			}
		}
	}
	return dc, len(dc.Values) > 0, nil
}

func (ef EventFixture) toEvent(p model.Program) (model.ControlEvent, error) {
	vals, err := ParseValues(ef.Values)
	if err != nil {
		return model.ControlEvent{}, err
	}
	rr, err := model.ParseResponseRequired(ef.ResponseRequired)
	if err != nil {
		return model.ControlEvent{}, err
	}
	prog := p
	return model.ControlEvent{
		MRID:              ef.MRID,
		Program:           &prog,
		CreationTime:      ef.CreationTime,
		Interval:          model.Interval{Start: ef.Start, DurationSeconds: ef.DurationSeconds},
		Values:            vals,
		ResponseRequired:  rr,
		ReplyTo:           ef.ReplyTo,
		RandomizeStart:    ef.RandomizeStart,
		RandomizeDuration: ef.RandomizeDuration,
	}, nil
}
