package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/dercontrol/api"
	"github.com/kilianp07/dercontrol/core/ack"
	"github.com/kilianp07/dercontrol/core/coordinator"
	"github.com/kilianp07/dercontrol/core/factory"
	corelogger "github.com/kilianp07/dercontrol/core/logger"
	"github.com/kilianp07/dercontrol/core/metrics"
	"github.com/kilianp07/dercontrol/core/ramp"
	"github.com/kilianp07/dercontrol/core/scheduler"
	"github.com/kilianp07/dercontrol/core/setpointlog"
	"github.com/kilianp07/dercontrol/infra/mqtt"
	"github.com/kilianp07/dercontrol/infra/price"
	"github.com/kilianp07/dercontrol/infra/sunspec"
)

type Config struct {
	Device      coordinator.Config     `json:"device"`
	Control     ControlConfig          `json:"control"`
	Ack         ack.Config             `json:"ack"`
	Policies    []factory.ModuleConfig `json:"policies"`
	MQTT        mqtt.Config            `json:"mqtt"`
	Modbus      sunspec.Config         `json:"modbus"`
	Price       price.Config           `json:"price"`
	Metrics     metrics.Config         `json:"metrics"`
	SetpointLog setpointlog.Config     `json:"setpoint_log"`
	Store       StoreConfig            `json:"store"`
	API         api.Config             `json:"api"`
	Sentry      SentryConfig           `json:"sentry"`
	Logging     corelogger.Config      `json:"logging"`
}

// ControlConfig groups the scheduling and shaping settings.
type ControlConfig struct {
	Ramp      ramp.Config      `json:"ramp"`
	Scheduler scheduler.Config `json:"scheduler"`
	// EventsFile feeds programs and default control from a fixture file,
	// reloaded when it changes.
	EventsFile          string `json:"events_file"`
	EventsReloadSeconds int    `json:"events_reload_seconds"`
}

// StoreConfig locates the SQLite database persisting default control.
// An empty path keeps it in memory.
type StoreConfig struct {
	Path string `json:"path"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides, K_SECTION__KEY maps to section.key
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Device.SetDefaults()
	c.Control.Ramp.SetDefaults()
	c.Ack.SetDefaults()
	if c.Ack.DeviceID == "" {
		c.Ack.DeviceID = c.Device.DeviceID
	}
	c.MQTT.SetDefaults()
	c.Modbus.SetDefaults()
	c.Price.SetDefaults()
	c.API.SetDefaults()
}

// Validate checks every section and prefixes errors with the section name.
func (c Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"device", c.Device.Validate},
		{"control.ramp", c.Control.Ramp.Validate},
		{"ack", c.Ack.Validate},
		{"policies", c.validatePolicies},
		{"mqtt", c.MQTT.Validate},
		{"modbus", c.Modbus.Validate},
		{"price", c.Price.Validate},
		{"setpoint_log", func() error { return validateSetpointLog(c.SetpointLog) }},
		{"logging", func() error { return validateLogging(c.Logging) }},
		{"sentry", c.Sentry.Validate},
	}
	for _, chk := range checks {
		if err := chk.fn(); err != nil {
			return fmt.Errorf("%s: %w", chk.name, err)
		}
	}
	return nil
}

func (c Config) validatePolicies() error {
	for i, p := range c.Policies {
		if p.Type == "" {
			return fmt.Errorf("policy %d has no type", i)
		}
		if p.Type == "negative_price" && !c.Price.Enabled {
			return fmt.Errorf("negative_price policy requires price.enabled")
		}
	}
	return nil
}
