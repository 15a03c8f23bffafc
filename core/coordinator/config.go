package coordinator

import (
	"fmt"

	"github.com/kilianp07/dercontrol/core/model"
)

// Config holds coordinator settings.
type Config struct {
	DeviceID string `json:"device_id"`
	// Capabilities lists the control fields the device supports. Empty
	// means every field.
	Capabilities []string `json:"capabilities"`
	// RatedPowerW is used when samples do not report a nameplate rating.
	RatedPowerW float64 `json:"rated_power_w"`
	// TickOnSiteSample also ticks on site meter readings.
	TickOnSiteSample *bool `json:"tick_on_site_sample"`
	// Buffer is the capacity of the input channels.
	Buffer int `json:"buffer"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.DeviceID == "" {
		c.DeviceID = "der-1"
	}
	if c.TickOnSiteSample == nil {
		c.TickOnSiteSample = model.Ptr(true)
	}
	if c.Buffer <= 0 {
		c.Buffer = 16
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.RatedPowerW < 0 {
		return fmt.Errorf("rated_power_w must be >= 0")
	}
	if _, err := model.ParseFieldSet(c.Capabilities); err != nil {
		return fmt.Errorf("capabilities: %w", err)
	}
	return nil
}

// FieldSet returns the device capabilities as a bitset.
func (c Config) FieldSet() model.FieldSet {
	if len(c.Capabilities) == 0 {
		return model.AllFieldSet()
	}
	fs, err := model.ParseFieldSet(c.Capabilities)
	if err != nil {
		return model.AllFieldSet()
	}
	return fs
}
