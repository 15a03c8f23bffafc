package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/kilianp07/dercontrol/core/metrics"
	"github.com/kilianp07/dercontrol/core/model"
)

func TestPromSink_RecordSetpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	rec := coremetrics.SetpointRecord{
		Time: time.Now(),
		Limit: model.InverterControlLimit{
			ExportLimitW: model.Ptr(1500.0),
			Connect:      model.Ptr(true),
		},
		Constrainers: map[model.ControlField][]model.LimitSource{
			model.FieldExportLimit: {model.SourceCSIP, model.SourceFixed},
		},
		Applied: true,
		Latency: 20 * time.Millisecond,
	}
	if err := sink.RecordSetpoint(rec); err != nil {
		t.Fatalf("record: %v", err)
	}
	if v := testutil.ToFloat64(sink.limit.WithLabelValues("export_limit")); v != 1500 {
		t.Fatalf("export limit gauge = %v", v)
	}
	if v := testutil.ToFloat64(sink.flag.WithLabelValues("connect")); v != 1 {
		t.Fatalf("connect gauge = %v", v)
	}
	if v := testutil.ToFloat64(sink.constraint.WithLabelValues("export_limit", "fixed")); v != 1 {
		t.Fatalf("constrainer counter = %v", v)
	}
	if v := testutil.ToFloat64(sink.applied.WithLabelValues("true")); v != 1 {
		t.Fatalf("applied counter = %v", v)
	}
	if n := testutil.CollectAndCount(sink.latency); n != 1 {
		t.Fatalf("latency histogram series = %d", n)
	}

	// a field that becomes unset disappears from the gauge vector
	if err := sink.RecordSetpoint(coremetrics.SetpointRecord{Time: time.Now()}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if n := testutil.CollectAndCount(sink.limit); n != 0 {
		t.Fatalf("expected unset fields to be removed, got %d series", n)
	}
}

func TestPromSink_RecordAckAndSample(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	_ = sink.RecordAck(coremetrics.AckRecord{MRID: "e1", Status: "EventReceived", Success: true})
	_ = sink.RecordAck(coremetrics.AckRecord{MRID: "e1", Status: "EventStarted", Success: false, Error: "boom"})
	if v := testutil.ToFloat64(sink.acks.WithLabelValues("EventReceived", "true")); v != 1 {
		t.Fatalf("ack counter = %v", v)
	}
	if v := testutil.ToFloat64(sink.acks.WithLabelValues("EventStarted", "false")); v != 1 {
		t.Fatalf("ack failure counter = %v", v)
	}

	_ = sink.RecordSample(coremetrics.SampleRecord{DeviceID: "inv1", ActivePowerW: 3200, RatedPowerW: 5000})
	_ = sink.RecordSample(coremetrics.SampleRecord{Site: true, ActivePowerW: -800})
	if v := testutil.ToFloat64(sink.power.WithLabelValues("inv1")); v != 3200 {
		t.Fatalf("power gauge = %v", v)
	}
	if v := testutil.ToFloat64(sink.power.WithLabelValues("site")); v != -800 {
		t.Fatalf("site gauge = %v", v)
	}
	if v := testutil.ToFloat64(sink.rated.WithLabelValues("inv1")); v != 5000 {
		t.Fatalf("rated gauge = %v", v)
	}

	_ = sink.RecordScheduleChange(coremetrics.ScheduleChangeRecord{Field: model.FieldExportLimit, MRID: "e2"})
	if v := testutil.ToFloat64(sink.changes.WithLabelValues("export_limit")); v != 1 {
		t.Fatalf("schedule change counter = %v", v)
	}
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("first sink: %v", err)
	}
	b, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("second sink: %v", err)
	}
	_ = a.RecordAck(coremetrics.AckRecord{Status: "EventReceived", Success: true})
	if v := testutil.ToFloat64(b.acks.WithLabelValues("EventReceived", "true")); v != 1 {
		t.Fatalf("expected shared collector, got %v", v)
	}
}
