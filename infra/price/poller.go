package price

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/dercontrol/core/logger"
	"github.com/kilianp07/dercontrol/core/monitoring"
	"github.com/kilianp07/dercontrol/core/policy"
)

// Config configures the price feed.
type Config struct {
	Enabled             bool     `json:"enabled"`
	URL                 string   `json:"url"`
	Auth                AuthConf `json:"auth"`
	PollIntervalSeconds int      `json:"poll_interval_seconds"`
	HorizonHours        int      `json:"horizon_hours"`
	MaxRetries          int      `json:"max_retries"`
	RetryDelaySeconds   int      `json:"retry_delay_seconds"`
	TimeoutSeconds      int      `json:"timeout_seconds"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = 900
	}
	if c.HorizonHours <= 0 {
		c.HorizonHours = 24
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelaySeconds <= 0 {
		c.RetryDelaySeconds = 10
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Auth.ClientID != "" && c.Auth.AuthURL == "" {
		return fmt.Errorf("price.auth.auth_url is required with a client_id")
	}
	return nil
}

// Fetcher retrieves prices for a time range.
type Fetcher interface {
	Fetch(ctx context.Context, start, end time.Time) ([]policy.PricePoint, error)
}

// Poller refreshes prices at a fixed interval and implements
// policy.PriceProvider.
type Poller struct {
	cfg     Config
	fetcher Fetcher
	log     logger.Logger
	now     func() time.Time
	delay   time.Duration

	mu     sync.RWMutex
	points []policy.PricePoint
}

var _ policy.PriceProvider = (*Poller)(nil)

// NewPoller creates a poller.
func NewPoller(cfg Config, f Fetcher, log logger.Logger) *Poller {
	cfg.SetDefaults()
	return &Poller{
		cfg:     cfg,
		fetcher: f,
		log:     log,
		now:     time.Now,
		delay:   time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}
}

// Run polls until the context is canceled.
func (p *Poller) Run(ctx context.Context) {
	defer monitoring.Recover("price")
	ticker := time.NewTicker(time.Duration(p.cfg.PollIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
			p.log.Errorf("price refresh: %v", err)
			monitoring.CaptureException(err, map[string]string{"component": "price"})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh fetches prices from the start of the current hour over the
// configured horizon. Failed attempts are retried with a fixed delay. The
// previous prices are kept when every attempt fails.
func (p *Poller) Refresh(ctx context.Context) error {
	start := p.now().Truncate(time.Hour)
	end := start.Add(time.Duration(p.cfg.HorizonHours) * time.Hour)
	var err error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		var pts []policy.PricePoint
		pts, err = p.fetcher.Fetch(ctx, start, end)
		if err == nil {
			p.mu.Lock()
			p.points = pts
			p.mu.Unlock()
			p.log.Debugf("fetched %d price points", len(pts))
			return nil
		}
		p.log.Warnf("price fetch attempt %d/%d failed: %v", attempt, p.cfg.MaxRetries, err)
		if attempt == p.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay):
		}
	}
	return fmt.Errorf("after %d attempts: %w", p.cfg.MaxRetries, err)
}

// PriceAt returns the price whose interval contains now.
func (p *Poller) PriceAt(now time.Time) (policy.PricePoint, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, pt := range p.points {
		if !now.Before(pt.Start) && now.Before(pt.End) {
			return pt, true
		}
	}
	return policy.PricePoint{}, false
}

// Points returns a copy of the known prices.
func (p *Poller) Points() []policy.PricePoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]policy.PricePoint(nil), p.points...)
}
