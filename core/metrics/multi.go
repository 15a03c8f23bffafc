package metrics

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordSetpoint forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordSetpoint(rec SetpointRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordSetpoint(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordAck forwards ack records when supported by the sink.
func (m *MultiSink) RecordAck(rec AckRecord) error {
	for _, s := range m.Sinks {
		if r, ok := s.(AckRecorder); ok {
			if err := r.RecordAck(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordSample forwards samples when supported by the sink.
func (m *MultiSink) RecordSample(rec SampleRecord) error {
	for _, s := range m.Sinks {
		if r, ok := s.(SampleRecorder); ok {
			if err := r.RecordSample(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordScheduleChange forwards winner changes when supported by the sink.
func (m *MultiSink) RecordScheduleChange(rec ScheduleChangeRecord) error {
	for _, s := range m.Sinks {
		if r, ok := s.(ScheduleChangeRecorder); ok {
			if err := r.RecordScheduleChange(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes every sink that holds resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
