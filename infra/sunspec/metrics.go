package sunspec

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var readErrors prometheus.Counter

func newCollectors() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "der_sunspec_read_errors_total",
		Help: "Total number of failed SunSpec register reads",
	})
}

func init() {
	readErrors = newCollectors()
	MustRegisterMetrics(prometheus.DefaultRegisterer)
}

// MustRegisterMetrics registers sampler metrics with the provided registerer.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if err := reg.Register(readErrors); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
	}
}

// ResetMetrics recreates the collectors on reg. It is intended for tests.
func ResetMetrics(reg prometheus.Registerer) {
	readErrors = newCollectors()
	MustRegisterMetrics(reg)
}
