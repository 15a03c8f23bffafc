package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/dercontrol/core/model"
)

// Published holds the last limit received from an external publisher.
type Published struct {
	mu    sync.RWMutex
	limit model.InverterControlLimit
	at    time.Time
}

// NewPublished returns an empty store.
func NewPublished() *Published { return &Published{} }

// Set replaces the stored limit.
func (p *Published) Set(l model.InverterControlLimit, at time.Time) {
	l.Source = model.SourceMQTT
	p.mu.Lock()
	p.limit, p.at = l, at
	p.mu.Unlock()
}

// Get returns the stored limit and its reception time.
func (p *Published) Get() (model.InverterControlLimit, time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.limit, p.at, !p.at.IsZero()
}

// PublishedConfig configures the published limit policy.
type PublishedConfig struct {
	MaxAgeSeconds int `json:"max_age_seconds"`
}

// PublishedSource exposes a Published store as a limit source.
type PublishedSource struct {
	cfg   PublishedConfig
	store *Published
}

// NewPublishedSource builds the policy. A zero max age defaults to five
// minutes.
func NewPublishedSource(c PublishedConfig, store *Published) *PublishedSource {
	if c.MaxAgeSeconds <= 0 {
		c.MaxAgeSeconds = 300
	}
	return &PublishedSource{cfg: c, store: store}
}

func (s *PublishedSource) Name() model.LimitSource { return model.SourceMQTT }

func (s *PublishedSource) Limit(_ context.Context, now time.Time) (model.InverterControlLimit, error) {
	l, at, ok := s.store.Get()
	if !ok {
		return model.InverterControlLimit{Source: model.SourceMQTT}, ErrNoData
	}
	if now.Sub(at) > time.Duration(s.cfg.MaxAgeSeconds)*time.Second {
		return model.InverterControlLimit{Source: model.SourceMQTT}, fmt.Errorf("%w: published at %s", ErrStale, at.Format(time.RFC3339))
	}
	return l, nil
}
