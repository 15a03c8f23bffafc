// Package metrics defines the sinks that record control decisions for
// observability. Sinks like PromSink and InfluxSink record setpoints,
// acknowledgements and device samples and can be combined with
// NewMultiSink. The factory helpers return a MultiSink automatically when
// multiple sinks are configured.
package metrics
