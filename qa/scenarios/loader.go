package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/dercontrol/core/factory"
	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/core/policy"
	"github.com/kilianp07/dercontrol/core/scheduler"
)

// PriceDef is a spot price served to the negative price policy.
type PriceDef struct {
	Start     time.Time `yaml:"start"`
	End       time.Time `yaml:"end"`
	EURPerMWh float64   `yaml:"eur_per_mwh"`
}

// Step advances the clock to At and ticks once.
type Step struct {
	At time.Time `yaml:"at"`
	// Remove drops these programs before the tick.
	Remove   []string `yaml:"remove,omitempty"`
	Expected Expected `yaml:"expected"`
}

// Expected describes the outcome of a step. A limit entry set to null
// asserts the field is unset. Acks are "mrid:status" pairs in send order.
type Expected struct {
	Limits  map[string]*float64 `yaml:"limits"`
	Winners map[string]string   `yaml:"winners,omitempty"`
	Acks    []string            `yaml:"acks,omitempty"`
}

type Scenario struct {
	Name                 string                     `yaml:"name"`
	Description          string                     `yaml:"description,omitempty"`
	RatedPowerW          float64                    `yaml:"rated_power_w"`
	RampPercentPerSecond float64                    `yaml:"ramp_percent_per_second"`
	Programs             []scheduler.ProgramFixture `yaml:"programs"`
	Policies             []factory.ModuleConfig     `yaml:"policies,omitempty"`
	Prices               []PriceDef                 `yaml:"prices,omitempty"`
	// IngestAcks are the responses expected when the programs are loaded.
	IngestAcks []string `yaml:"ingest_acks,omitempty"`
	Steps      []Step   `yaml:"steps"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("%s: scenario has no name", path)
	}
	return &sc, nil
}

// staticPrices serves the scenario prices.
type staticPrices []PriceDef

func (s staticPrices) PriceAt(now time.Time) (policy.PricePoint, bool) {
	for _, p := range s {
		if !now.Before(p.Start) && now.Before(p.End) {
			return policy.PricePoint{Start: p.Start, End: p.End, EURPerMWh: p.EURPerMWh, FetchedAt: p.Start}, true
		}
	}
	return policy.PricePoint{}, false
}

func parseLimits(named map[string]*float64) (map[model.ControlField]*float64, error) {
	out := make(map[model.ControlField]*float64, len(named))
	for name, v := range named {
		f, err := model.ParseControlField(name)
		if err != nil {
			return nil, err
		}
		out[f] = v
	}
	return out, nil
}
