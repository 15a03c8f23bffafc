package model

import "time"

// DeviceSample is a reading taken from the inverter.
type DeviceSample struct {
	DeviceID     string    `json:"device_id"`
	Time         time.Time `json:"time"`
	ActivePowerW float64   `json:"active_power_w"`
	RatedPowerW  float64   `json:"rated_power_w"` // 0 when the nameplate is unknown
	VoltageV     float64   `json:"voltage_v"`
	FrequencyHz  float64   `json:"frequency_hz"`
}

// SiteSample is a reading taken at the site connection point. Positive
// NetPowerW means import from the grid.
type SiteSample struct {
	Time        time.Time `json:"time"`
	NetPowerW   float64   `json:"net_power_w"`
	VoltageV    float64   `json:"voltage_v"`
	FrequencyHz float64   `json:"frequency_hz"`
}
