package coordinator

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ticksTotal, actuationFailures prometheus.Counter
	rejectedEvents                prometheus.Counter
)

func newCollectors() (prometheus.Counter, prometheus.Counter, prometheus.Counter) {
	return prometheus.NewCounter(prometheus.CounterOpts{
			Name: "der_coordinator_ticks_total",
			Help: "Total number of control ticks",
		}),
		prometheus.NewCounter(prometheus.CounterOpts{
			Name: "der_actuation_failures_total",
			Help: "Total number of setpoints the actuator failed to apply",
		}),
		prometheus.NewCounter(prometheus.CounterOpts{
			Name: "der_rejected_events_total",
			Help: "Total number of control events rejected at ingest",
		})
}

func init() {
	ticksTotal, actuationFailures, rejectedEvents = newCollectors()
	MustRegisterMetrics(prometheus.DefaultRegisterer)
}

// MustRegisterMetrics registers coordinator metrics with the provided registerer.
func MustRegisterMetrics(reg prometheus.Registerer) {
	for _, c := range []prometheus.Collector{ticksTotal, actuationFailures, rejectedEvents} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

// ResetMetrics recreates the collectors on reg. It is intended for tests.
func ResetMetrics(reg prometheus.Registerer) {
	ticksTotal, actuationFailures, rejectedEvents = newCollectors()
	MustRegisterMetrics(reg)
}
