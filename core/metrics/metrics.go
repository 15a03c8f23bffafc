package metrics

import (
	"time"

	"github.com/kilianp07/dercontrol/core/model"
)

// SetpointRecord is the outcome of one control tick.
type SetpointRecord struct {
	Time         time.Time
	Limit        model.InverterControlLimit
	Constrainers map[model.ControlField][]model.LimitSource
	RatedPowerW  float64
	Applied      bool
	Latency      time.Duration
}

// MetricsSink records setpoints for observability purposes.
type MetricsSink interface {
	RecordSetpoint(rec SetpointRecord) error
}

// AckRecord captures an acknowledgement send attempt.
type AckRecord struct {
	MRID    string
	Status  string
	Success bool
	Error   string
	Time    time.Time
}

// AckRecorder records acknowledgement attempts.
type AckRecorder interface {
	RecordAck(rec AckRecord) error
}

// SampleRecord is a device or site measurement.
type SampleRecord struct {
	DeviceID     string
	Site         bool
	ActivePowerW float64
	RatedPowerW  float64
	VoltageV     float64
	FrequencyHz  float64
	Time         time.Time
}

// SampleRecorder records measurements.
type SampleRecorder interface {
	RecordSample(rec SampleRecord) error
}

// ScheduleChangeRecord captures a change of the winning event of a field.
type ScheduleChangeRecord struct {
	Field        model.ControlField
	PreviousMRID string
	MRID         string
	Time         time.Time
}

// ScheduleChangeRecorder records winner changes.
type ScheduleChangeRecorder interface {
	RecordScheduleChange(rec ScheduleChangeRecord) error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordSetpoint(SetpointRecord) error             { return nil }
func (NopSink) RecordAck(AckRecord) error                       { return nil }
func (NopSink) RecordSample(SampleRecord) error                 { return nil }
func (NopSink) RecordScheduleChange(ScheduleChangeRecord) error { return nil }
