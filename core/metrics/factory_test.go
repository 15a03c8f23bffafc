package metrics_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/dercontrol/core/factory"
	metrics "github.com/kilianp07/dercontrol/core/metrics"
	_ "github.com/kilianp07/dercontrol/infra/metrics"
)

type countingSink struct {
	metrics.NopSink
	setpoints int
}

func (c *countingSink) RecordSetpoint(metrics.SetpointRecord) error {
	c.setpoints++
	return nil
}

func init() {
	_ = metrics.RegisterMetricsSink("counting_test", func(map[string]any) (metrics.MetricsSink, error) {
		return &countingSink{}, nil
	})
	_ = metrics.RegisterMetricsSink("broken_test", func(map[string]any) (metrics.MetricsSink, error) {
		return nil, errors.New("boom")
	})
}

func TestNewMetricsSink(t *testing.T) {
	s, err := metrics.NewMetricsSink(nil)
	if err != nil {
		t.Fatalf("empty config: %v", err)
	}
	if _, ok := s.(metrics.NopSink); !ok {
		t.Fatalf("expected NopSink, got %T", s)
	}

	s, err = metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "counting_test"}})
	if err != nil {
		t.Fatalf("nop + counting: %v", err)
	}
	if _, ok := s.(*countingSink); !ok {
		t.Fatalf("nop entries should be dropped, got %T", s)
	}

	s, err = metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "counting_test"}, {Type: "counting_test"}})
	if err != nil {
		t.Fatalf("two sinks: %v", err)
	}
	m, ok := s.(*metrics.MultiSink)
	if !ok || len(m.Sinks) != 2 {
		t.Fatalf("expected MultiSink with 2 sinks, got %T", s)
	}
	if err := m.RecordSetpoint(metrics.SetpointRecord{}); err != nil {
		t.Fatalf("record: %v", err)
	}
	for _, child := range m.Sinks {
		if child.(*countingSink).setpoints != 1 {
			t.Fatalf("setpoint not fanned out")
		}
	}
}

func TestNewMetricsSinkErrors(t *testing.T) {
	_, err := metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "missing"}})
	if err == nil || !strings.Contains(err.Error(), "sink 1 (missing)") {
		t.Fatalf("unknown type error should name the entry: %v", err)
	}
	if _, err := metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "broken_test"}}); err == nil {
		t.Fatal("factory error should propagate")
	}
}

func TestMetricsConfigDecode(t *testing.T) {
	var fromYAML metrics.Config
	if err := yaml.Unmarshal([]byte("sinks:\n  - type: counting_test\n  - type: counting_test\nprometheus_addr: \":9090\"\n"), &fromYAML); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if fromYAML.PrometheusAddr != ":9090" || len(fromYAML.Sinks) != 2 {
		t.Fatalf("unexpected yaml config %+v", fromYAML)
	}
	var fromJSON metrics.Config
	if err := json.Unmarshal([]byte(`{"sinks":[{"type":"influx","conf":{"url":"http://localhost:8086"}}]}`), &fromJSON); err != nil {
		t.Fatalf("json: %v", err)
	}
	if fromJSON.Sinks[0].Conf["url"] != "http://localhost:8086" {
		t.Fatalf("conf not decoded: %+v", fromJSON.Sinks[0])
	}
}
