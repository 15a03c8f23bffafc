package model

import (
	"errors"
	"fmt"
	"time"
)

// MaxRandomizeSeconds bounds the randomization offsets carried by an event.
const MaxRandomizeSeconds = 3600

// ErrInvalidEvent is wrapped by every validation failure of a ControlEvent.
var ErrInvalidEvent = errors.New("invalid control event")

// Program is a primacy-ranked source of control events. Lower Primacy wins.
type Program struct {
	ID          string `json:"id" yaml:"id"`
	Primacy     int    `json:"primacy" yaml:"primacy"`
	Description string `json:"description" yaml:"description"`
	Version     int    `json:"version" yaml:"version"`
}

// ResponseRequired tells which acknowledgements the issuer wants.
type ResponseRequired int

const (
	ResponseNone ResponseRequired = iota
	ResponseMessageReceivedOnly
	ResponseFull
)

func (r ResponseRequired) String() string {
	switch r {
	case ResponseNone:
		return "none"
	case ResponseMessageReceivedOnly:
		return "message_received_only"
	case ResponseFull:
		return "full"
	default:
		return "unknown"
	}
}

// ParseResponseRequired accepts the names returned by String.
func ParseResponseRequired(s string) (ResponseRequired, error) {
	switch s {
	case "", "none":
		return ResponseNone, nil
	case "message_received_only", "received":
		return ResponseMessageReceivedOnly, nil
	case "full":
		return ResponseFull, nil
	default:
		return ResponseNone, fmt.Errorf("unknown response requirement %q", s)
	}
}

// Interval is the nominal window of an event.
type Interval struct {
	Start           time.Time
	DurationSeconds int64
}

// ControlValues holds the fields an event constrains. Boolean fields are
// encoded as 1 (true) and 0 (false).
type ControlValues map[ControlField]float64

// BoolValue encodes a boolean field value.
func BoolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// AsBool decodes a boolean field value.
func AsBool(v float64) bool { return v != 0 }

// Fields returns the set of fields present in v.
func (v ControlValues) Fields() FieldSet {
	var s FieldSet
	for f := range v {
		s = s.With(f)
	}
	return s
}

// Clone returns an independent copy.
func (v ControlValues) Clone() ControlValues {
	if v == nil {
		return nil
	}
	out := make(ControlValues, len(v))
	for f, val := range v {
		out[f] = val
	}
	return out
}

// ControlEvent is a time-bounded instruction issued by a program.
type ControlEvent struct {
	MRID              string
	Program           *Program
	CreationTime      time.Time
	Interval          Interval
	Values            ControlValues
	ResponseRequired  ResponseRequired
	ReplyTo           string
	RandomizeStart    *int
	RandomizeDuration *int
}

// EndTime returns the nominal end of the event window.
func (e ControlEvent) EndTime() time.Time {
	return e.Interval.Start.Add(time.Duration(e.Interval.DurationSeconds) * time.Second)
}

// Validate performs structural validation.
func (e ControlEvent) Validate() error {
	if e.MRID == "" {
		return fmt.Errorf("%w: missing mRID", ErrInvalidEvent)
	}
	if e.Program == nil {
		return fmt.Errorf("%w: %s has no program", ErrInvalidEvent, e.MRID)
	}
	if e.Interval.Start.IsZero() {
		return fmt.Errorf("%w: %s has no start time", ErrInvalidEvent, e.MRID)
	}
	if e.Interval.DurationSeconds < 0 {
		return fmt.Errorf("%w: %s has negative duration %d", ErrInvalidEvent, e.MRID, e.Interval.DurationSeconds)
	}
	if len(e.Values) == 0 {
		return fmt.Errorf("%w: %s constrains no field", ErrInvalidEvent, e.MRID)
	}
	for f := range e.Values {
		if !f.Valid() {
			return fmt.Errorf("%w: %s has unknown field %d", ErrInvalidEvent, e.MRID, f)
		}
	}
	if err := checkRandomize("randomizeStart", e.RandomizeStart); err != nil {
		return fmt.Errorf("%w: %s %v", ErrInvalidEvent, e.MRID, err)
	}
	if err := checkRandomize("randomizeDuration", e.RandomizeDuration); err != nil {
		return fmt.Errorf("%w: %s %v", ErrInvalidEvent, e.MRID, err)
	}
	return nil
}

func checkRandomize(name string, v *int) error {
	if v == nil {
		return nil
	}
	if *v < -MaxRandomizeSeconds || *v > MaxRandomizeSeconds {
		return fmt.Errorf("%s %d out of range", name, *v)
	}
	return nil
}

// EffectiveSchedule is the per-field view of an event after randomization.
type EffectiveSchedule struct {
	MRID             string           `json:"mrid"`
	ProgramID        string           `json:"program_id"`
	ProgramPrimacy   int              `json:"program_primacy"`
	CreationTime     time.Time        `json:"creation_time"`
	EffectiveStart   time.Time        `json:"effective_start"`
	EffectiveEnd     time.Time        `json:"effective_end"`
	Value            float64          `json:"value"`
	ResponseRequired ResponseRequired `json:"response_required"`
	ReplyTo          string           `json:"reply_to,omitempty"`
}

// ActiveAt reports whether t lies in the half-open window [start, end).
func (s EffectiveSchedule) ActiveAt(t time.Time) bool {
	return !t.Before(s.EffectiveStart) && t.Before(s.EffectiveEnd)
}

// DefaultControl holds fallback values applied when no event is active.
type DefaultControl struct {
	Values    ControlValues `json:"values"`
	UpdatedAt time.Time     `json:"updated_at"`
}
