// Package monitoring routes failures of the control loop and its pollers to
// an error reporting backend. Without Init every call is a no-op.
package monitoring

import "time"

// Monitor is implemented by error reporting backends.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	CapturePanic(v any, tags map[string]string)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CapturePanic(any, map[string]string)       {}
func (NopMonitor) Flush(time.Duration)                       {}

// panicFlush bounds how long a crashing goroutine waits for delivery.
const panicFlush = 2 * time.Second

var current Monitor = NopMonitor{}

// Init installs m. A nil m keeps the current monitor.
func Init(m Monitor) {
	if m != nil {
		current = m
	}
}

// CaptureException reports err. Nil errors are ignored.
func CaptureException(err error, tags map[string]string) {
	if err != nil {
		current.CaptureException(err, tags)
	}
}

// Recover reports a panic of the goroutine running component and re-raises
// it. It must be deferred directly.
func Recover(component string) {
	if r := recover(); r != nil {
		current.CapturePanic(r, map[string]string{"component": component})
		current.Flush(panicFlush)
		panic(r)
	}
}

func Flush(d time.Duration) { current.Flush(d) }
