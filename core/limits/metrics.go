package limits

import "github.com/prometheus/client_golang/prometheus"

var sourceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "der_limit_source_errors_total",
	Help: "Ticks on which a limit source failed to produce a value",
}, []string{"source"})

func init() {
	if err := prometheus.Register(sourceErrors); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			sourceErrors = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
}
