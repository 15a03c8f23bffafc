package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/dercontrol/core/model"
)

// PricePoint is a spot price valid over [Start, End).
type PricePoint struct {
	Start     time.Time
	End       time.Time
	EURPerMWh float64
	FetchedAt time.Time
}

// PriceProvider returns the price covering now.
type PriceProvider interface {
	PriceAt(now time.Time) (PricePoint, bool)
}

// NegativePriceConfig configures the negative price policy.
type NegativePriceConfig struct {
	// ThresholdEURPerMWh triggers the limit when the price is strictly below it.
	ThresholdEURPerMWh float64 `json:"threshold_eur_per_mwh"`
	ExportLimitW       float64 `json:"export_limit_w"`
	// MaxAgeSeconds bounds how old the fetched price may be. Zero disables
	// the check.
	MaxAgeSeconds int `json:"max_age_seconds"`
}

// NegativePrice limits export while the spot price is below a threshold.
type NegativePrice struct {
	cfg    NegativePriceConfig
	prices PriceProvider
}

// NewNegativePrice builds the policy.
func NewNegativePrice(c NegativePriceConfig, prices PriceProvider) *NegativePrice {
	return &NegativePrice{cfg: c, prices: prices}
}

func (p *NegativePrice) Name() model.LimitSource { return model.SourceNegativePrice }

// Limit returns the export limit when the current price is below the
// threshold and an empty limit otherwise.
func (p *NegativePrice) Limit(_ context.Context, now time.Time) (model.InverterControlLimit, error) {
	out := model.InverterControlLimit{Source: model.SourceNegativePrice}
	pt, ok := p.prices.PriceAt(now)
	if !ok {
		return out, fmt.Errorf("%w: no price at %s", ErrNoData, now.Format(time.RFC3339))
	}
	if p.cfg.MaxAgeSeconds > 0 && now.Sub(pt.FetchedAt) > time.Duration(p.cfg.MaxAgeSeconds)*time.Second {
		return out, fmt.Errorf("%w: price fetched at %s", ErrStale, pt.FetchedAt.Format(time.RFC3339))
	}
	if pt.EURPerMWh < p.cfg.ThresholdEURPerMWh {
		out.ExportLimitW = model.Ptr(p.cfg.ExportLimitW)
	}
	return out, nil
}
