package policy

import (
	"context"
	"time"

	"github.com/kilianp07/dercontrol/core/model"
)

// FixedConfig holds static limits keyed by field name.
type FixedConfig struct {
	Limits map[string]float64 `json:"limits"`
}

// Fixed always returns the same limit.
type Fixed struct {
	limit model.InverterControlLimit
}

// NewFixed builds a Fixed policy.
func NewFixed(c FixedConfig) (*Fixed, error) {
	l, err := parseLimits(model.SourceFixed, c.Limits)
	if err != nil {
		return nil, err
	}
	return &Fixed{limit: l}, nil
}

func (f *Fixed) Name() model.LimitSource { return model.SourceFixed }

func (f *Fixed) Limit(context.Context, time.Time) (model.InverterControlLimit, error) {
	return f.limit, nil
}
