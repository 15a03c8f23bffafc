// Package sunspec samples inverter readings over Modbus TCP using the
// SunSpec inverter (101-103) and nameplate (120) models.
package sunspec

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/simonvetter/modbus"

	"github.com/kilianp07/dercontrol/core/logger"
	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/core/monitoring"
)

const (
	notImplementedInt16  = 0x8000
	notImplementedUint16 = 0xFFFF
)

// Sampler reads one inverter and produces device samples.
type Sampler struct {
	cfg      Config
	deviceID string
	log      logger.Logger
	now      func() time.Time

	client          *modbus.ModbusClient
	reader          registerReader
	blocks          blocks
	shouldReconnect bool
}

// NewSampler creates a sampler for deviceID.
func NewSampler(cfg Config, deviceID string, log logger.Logger) *Sampler {
	cfg.SetDefaults()
	return &Sampler{cfg: cfg, deviceID: deviceID, log: log, now: time.Now, shouldReconnect: true}
}

func (s *Sampler) connect() error {
	if !s.shouldReconnect {
		return nil
	}
	if s.client != nil {
		_ = s.client.Close()
	}
	c, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     s.cfg.url(),
		Timeout: time.Duration(s.cfg.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create modbus client: %w", err)
	}
	if err := c.Open(); err != nil {
		return fmt.Errorf("open modbus client: %w", err)
	}
	if err := c.SetUnitId(s.cfg.UnitID); err != nil {
		_ = c.Close()
		return fmt.Errorf("set unit id: %w", err)
	}
	b, err := survey(c, s.cfg.BaseAddress)
	if err != nil {
		_ = c.Close()
		return err
	}
	s.client, s.reader, s.blocks = c, c, b
	s.shouldReconnect = false
	s.log.Infof("connected to sunspec inverter at %s", s.cfg.url())
	return nil
}

// Close closes the modbus connection.
func (s *Sampler) Close() error {
	s.shouldReconnect = true
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Sample reads the current inverter state. The connection is re-established
// on the next call after any error.
func (s *Sampler) Sample() (model.DeviceSample, error) {
	if err := s.connect(); err != nil {
		s.shouldReconnect = true
		return model.DeviceSample{}, err
	}
	sample, err := s.read()
	if err != nil {
		s.shouldReconnect = true
	}
	return sample, err
}

func (s *Sampler) read() (model.DeviceSample, error) {
	out := model.DeviceSample{DeviceID: s.deviceID, Time: s.now()}
	// PhVphA PhVphB PhVphC V_SF W W_SF Hz Hz_SF
	regs, err := s.reader.ReadRegisters(s.blocks.inverter+10, 8, modbus.HOLDING_REGISTER)
	if err != nil {
		return out, fmt.Errorf("read inverter model: %w", err)
	}
	out.VoltageV = scaleUint16(regs[0], regs[3])
	out.ActivePowerW = scaleInt16(regs[4], regs[5])
	out.FrequencyHz = scaleUint16(regs[6], regs[7])

	if s.blocks.nameplate != 0 {
		// WRtg WRtg_SF
		np, err := s.reader.ReadRegisters(s.blocks.nameplate+3, 2, modbus.HOLDING_REGISTER)
		if err != nil {
			return out, fmt.Errorf("read nameplate model: %w", err)
		}
		out.RatedPowerW = scaleUint16(np[0], np[1])
	}
	return out, nil
}

// sampleWithRetry retries failed reads with a fixed delay.
func (s *Sampler) sampleWithRetry(ctx context.Context) (model.DeviceSample, error) {
	var err error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		var sample model.DeviceSample
		if sample, err = s.Sample(); err == nil {
			return sample, nil
		}
		readErrors.Inc()
		s.log.Warnf("sunspec read attempt %d/%d failed: %v", attempt, s.cfg.MaxRetries, err)
		if attempt == s.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return model.DeviceSample{}, ctx.Err()
		case <-time.After(time.Duration(s.cfg.RetryDelayMS) * time.Millisecond):
		}
	}
	return model.DeviceSample{}, err
}

// Run samples at the configured interval and sends readings to out until the
// context is canceled.
func (s *Sampler) Run(ctx context.Context, out chan<- model.DeviceSample) {
	defer monitoring.Recover("sunspec")
	defer func() { _ = s.Close() }()
	ticker := time.NewTicker(time.Duration(s.cfg.PollIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		sample, err := s.sampleWithRetry(ctx)
		switch {
		case err == nil:
			select {
			case out <- sample:
			case <-ctx.Done():
				return
			}
		case ctx.Err() == nil:
			s.log.Errorf("sunspec sampling failed: %v", err)
			monitoring.CaptureException(err, map[string]string{"component": "sunspec", "device_id": s.deviceID})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func scaleInt16(v, sf uint16) float64 {
	if v == notImplementedInt16 || sf == notImplementedInt16 {
		return 0
	}
	return float64(int16(v)) * math.Pow10(int(int16(sf)))
}

func scaleUint16(v, sf uint16) float64 {
	if v == notImplementedUint16 || sf == notImplementedInt16 {
		return 0
	}
	return float64(v) * math.Pow10(int(int16(sf)))
}
