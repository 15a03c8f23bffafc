package scenarios

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/dercontrol/core/ack"
	"github.com/kilianp07/dercontrol/core/coordinator"
	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/core/policy"
	"github.com/kilianp07/dercontrol/core/ramp"
	"github.com/kilianp07/dercontrol/core/scheduler"
	"github.com/kilianp07/dercontrol/infra/logger"
	"github.com/kilianp07/dercontrol/infra/metrics"
	"github.com/kilianp07/dercontrol/infra/mqtt"
)

func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}

	client := mqtt.NewRecordingClient()
	protocol, err := ack.NewProtocol(ack.Config{DeviceID: "scenario"}, client, logger.NopLogger{})
	if err != nil {
		t.Fatalf("ack protocol: %v", err)
	}
	sources, err := policy.Build(sc.Policies, policy.Env{Prices: staticPrices(sc.Prices), Published: policy.NewPublished()})
	if err != nil {
		t.Fatalf("policies: %v", err)
	}
	rampCfg := ramp.Config{PercentPerSecond: sc.RampPercentPerSecond, Disabled: sc.RampPercentPerSecond == 0}

	c, err := coordinator.New(coordinator.Config{DeviceID: "scenario", RatedPowerW: sc.RatedPowerW}, coordinator.Deps{
		Schedules: scheduler.NewSet(scheduler.Config{JitterSeed: 1}, logger.NopLogger{}),
		Acks:      protocol,
		Shaper:    ramp.NewShaper(rampCfg),
		Sources:   sources,
		Metrics:   sink,
	}, logger.NopLogger{})
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}

	fx := scheduler.Fixture{Programs: sc.Programs}
	programs, err := fx.ProgramEvents()
	if err != nil {
		t.Fatalf("programs: %v", err)
	}
	for _, pe := range programs {
		for _, err := range c.UpdateProgram(ctx, pe.Program, pe.Events) {
			t.Fatalf("program %s: %v", pe.Program.ID, err)
		}
	}
	if dc, ok, err := fx.DefaultControl(); err != nil {
		t.Fatalf("default control: %v", err)
	} else if ok {
		if err := c.UpdateDefaultControl(ctx, dc); err != nil {
			t.Fatalf("default control: %v", err)
		}
	}
	seen := checkAcks(t, "ingest", client, 0, sc.IngestAcks)

	for i, step := range sc.Steps {
		name := fmt.Sprintf("step %d", i)
		for _, id := range step.Remove {
			c.RemoveProgram(ctx, id)
		}
		sp := c.Tick(ctx, step.At)
		want, err := parseLimits(step.Expected.Limits)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		for f, v := range want {
			got, ok := sp.Limit.Get(f)
			switch {
			case v == nil && ok:
				t.Errorf("%s: %s expected unset, got %v", name, f, got)
			case v != nil && !ok:
				t.Errorf("%s: %s expected %v, got unset", name, f, *v)
			case v != nil && got != *v:
				t.Errorf("%s: %s expected %v, got %v", name, f, *v, got)
			}
		}
		for fieldName, mrid := range step.Expected.Winners {
			f, err := model.ParseControlField(fieldName)
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if sp.Winners[f] != mrid {
				t.Errorf("%s: %s winner expected %q, got %q", name, f, mrid, sp.Winners[f])
			}
		}
		seen = checkAcks(t, name, client, seen, step.Expected.Acks)
	}
}

// checkAcks compares the responses sent after the first seen ones with want
// and returns the new total.
func checkAcks(t *testing.T, name string, client *mqtt.RecordingClient, seen int, want []string) int {
	t.Helper()
	var got []string
	for _, r := range client.Responses[seen:] {
		got = append(got, r.MRID+":"+r.Status.String())
	}
	if len(got) != len(want) {
		t.Errorf("%s: expected acks %v, got %v", name, want, got)
		return len(client.Responses)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s: expected acks %v, got %v", name, want, got)
			break
		}
	}
	return len(client.Responses)
}
