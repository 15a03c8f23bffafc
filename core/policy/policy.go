// Package policy implements the local limit sources that sit beside the
// remote control program: fixed limits, negative price export bans, two-way
// tariff windows and externally published limits.
package policy

import (
	"errors"
	"fmt"

	"github.com/kilianp07/dercontrol/core/factory"
	"github.com/kilianp07/dercontrol/core/limits"
	"github.com/kilianp07/dercontrol/core/model"
)

var (
	// ErrStale is returned when the data behind a policy is too old.
	ErrStale = errors.New("policy: stale data")
	// ErrNoData is returned when a policy has nothing to base a limit on.
	ErrNoData = errors.New("policy: no data")
)

// Env carries the runtime collaborators some policies need.
type Env struct {
	Prices    PriceProvider
	Published *Published
}

// Build instantiates every configured policy.
func Build(cfgs []factory.ModuleConfig, env Env) ([]limits.Source, error) {
	reg := newRegistry(env)
	out := make([]limits.Source, 0, len(cfgs))
	for _, c := range cfgs {
		s, err := reg.Create(c)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", c.Type, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func newRegistry(env Env) *factory.Registry[limits.Source] {
	reg := factory.NewRegistry[limits.Source]()
	_ = reg.Register(string(model.SourceFixed), func(conf map[string]any) (limits.Source, error) {
		var c FixedConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewFixed(c)
	})
	_ = reg.Register(string(model.SourceNegativePrice), func(conf map[string]any) (limits.Source, error) {
		var c NegativePriceConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if env.Prices == nil {
			return nil, errors.New("no price provider configured")
		}
		return NewNegativePrice(c, env.Prices), nil
	})
	_ = reg.Register(string(model.SourceTwoWayTariff), func(conf map[string]any) (limits.Source, error) {
		var c TariffConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewTwoWayTariff(c)
	})
	_ = reg.Register(string(model.SourceMQTT), func(conf map[string]any) (limits.Source, error) {
		var c PublishedConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if env.Published == nil {
			return nil, errors.New("no published limit store configured")
		}
		return NewPublishedSource(c, env.Published), nil
	})
	return reg
}

// parseLimits converts named field values into a limit.
func parseLimits(src model.LimitSource, named map[string]float64) (model.InverterControlLimit, error) {
	vals := make(model.ControlValues, len(named))
	for name, v := range named {
		f, err := model.ParseControlField(name)
		if err != nil {
			return model.InverterControlLimit{}, err
		}
		vals[f] = v
	}
	return model.LimitFromValues(src, vals), nil
}
