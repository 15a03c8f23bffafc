package ack

import "github.com/prometheus/client_golang/prometheus"

var (
	ackSent       *prometheus.CounterVec
	ackFailures   *prometheus.CounterVec
	ackSuppressed prometheus.Counter
)

func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, prometheus.Counter) {
	sent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "der_ack_sent_total",
		Help: "Acknowledgements delivered to the issuer",
	}, []string{"status"})
	fail := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "der_ack_failures_total",
		Help: "Acknowledgements whose delivery failed",
	}, []string{"status"})
	sup := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "der_ack_suppressed_total",
		Help: "Acknowledgements suppressed because they were already sent",
	})
	return sent, fail, sup
}

func init() {
	ackSent, ackFailures, ackSuppressed = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers the ack collectors on reg. A nil reg selects
// prometheus.DefaultRegisterer.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(ackSent, ackFailures, ackSuppressed)
}

// ResetMetrics recreates the collectors and registers them on reg when not nil.
func ResetMetrics(reg prometheus.Registerer) {
	ackSent, ackFailures, ackSuppressed = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
