package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/dercontrol/core/metrics"
	"github.com/kilianp07/dercontrol/core/model"
)

// PromSink exposes control decisions as Prometheus metrics.
type PromSink struct {
	limit      *prometheus.GaugeVec
	flag       *prometheus.GaugeVec
	constraint *prometheus.CounterVec
	applied    *prometheus.CounterVec
	latency    prometheus.Histogram
	acks       *prometheus.CounterVec
	power      *prometheus.GaugeVec
	rated      *prometheus.GaugeVec
	changes    *prometheus.CounterVec
}

// NewPromSink registers the metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// register registers c on reg, reusing an identical collector registered earlier.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.limit, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "der_setpoint_limit_watts",
		Help: "Limit of the last setpoint per control field",
	}, []string{"field"})); err != nil {
		return nil, err
	}
	if s.flag, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "der_setpoint_flag",
		Help: "Connect and energize state of the last setpoint",
	}, []string{"field"})); err != nil {
		return nil, err
	}
	if s.constraint, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "der_setpoint_constrained_total",
		Help: "Ticks on which a source constrained a field",
	}, []string{"field", "source"})); err != nil {
		return nil, err
	}
	if s.applied, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "der_setpoints_total",
		Help: "Setpoints computed, by actuation outcome",
	}, []string{"applied"})); err != nil {
		return nil, err
	}
	if s.latency, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "der_tick_duration_seconds",
		Help:    "Duration of a control tick including actuation",
		Buckets: prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}
	if s.acks, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "der_ack_events_total",
		Help: "Acknowledgement attempts by status and outcome",
	}, []string{"status", "success"})); err != nil {
		return nil, err
	}
	if s.power, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "der_active_power_watts",
		Help: "Last measured active power",
	}, []string{"device_id"})); err != nil {
		return nil, err
	}
	if s.rated, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "der_rated_power_watts",
		Help: "Nameplate rating reported by the device",
	}, []string{"device_id"})); err != nil {
		return nil, err
	}
	if s.changes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "der_schedule_changes_total",
		Help: "Changes of the winning event per field",
	}, []string{"field"})); err != nil {
		return nil, err
	}
	return s, nil
}

// RecordSetpoint updates the limit gauges. Unset fields are removed.
func (s *PromSink) RecordSetpoint(rec coremetrics.SetpointRecord) error {
	for _, f := range model.AllFields() {
		v, ok := rec.Limit.Get(f)
		vec := s.limit
		if f.IsBool() {
			vec = s.flag
		}
		if !ok {
			vec.DeleteLabelValues(f.String())
			continue
		}
		vec.WithLabelValues(f.String()).Set(v)
	}
	for f, srcs := range rec.Constrainers {
		for _, src := range srcs {
			s.constraint.WithLabelValues(f.String(), string(src)).Inc()
		}
	}
	s.applied.WithLabelValues(strconv.FormatBool(rec.Applied)).Inc()
	if rec.Latency > 0 {
		s.latency.Observe(rec.Latency.Seconds())
	}
	return nil
}

// RecordAck counts acknowledgement attempts.
func (s *PromSink) RecordAck(rec coremetrics.AckRecord) error {
	s.acks.WithLabelValues(rec.Status, strconv.FormatBool(rec.Success)).Inc()
	return nil
}

// RecordSample sets the power gauges. Site samples use the "site" label.
func (s *PromSink) RecordSample(rec coremetrics.SampleRecord) error {
	id := rec.DeviceID
	if rec.Site {
		id = "site"
	}
	s.power.WithLabelValues(id).Set(rec.ActivePowerW)
	if rec.RatedPowerW > 0 {
		s.rated.WithLabelValues(id).Set(rec.RatedPowerW)
	}
	return nil
}

// RecordScheduleChange counts winner changes.
func (s *PromSink) RecordScheduleChange(rec coremetrics.ScheduleChangeRecord) error {
	s.changes.WithLabelValues(rec.Field.String()).Inc()
	return nil
}
