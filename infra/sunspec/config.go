package sunspec

import "fmt"

// Config configures the inverter sampler.
type Config struct {
	Enabled             bool   `json:"enabled"`
	Host                string `json:"host"`
	Port                int    `json:"port"`
	UnitID              uint8  `json:"unit_id"`
	BaseAddress         uint16 `json:"base_address"`
	TimeoutSeconds      int    `json:"timeout_seconds"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	MaxRetries          int    `json:"max_retries"`
	RetryDelayMS        int    `json:"retry_delay_ms"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Port == 0 {
		c.Port = 502
	}
	if c.UnitID == 0 {
		c.UnitID = 1
	}
	if c.BaseAddress == 0 {
		c.BaseAddress = 40000
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 2
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = 5
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelayMS <= 0 {
		c.RetryDelayMS = 500
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("modbus.host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("modbus.port %d out of range", c.Port)
	}
	return nil
}

func (c Config) url() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}
