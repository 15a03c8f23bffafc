package mqtt

import (
	"context"
	"time"

	"github.com/kilianp07/dercontrol/core/model"
)

// Client represents an MQTT client capable of sending limit commands to the
// inverter gateway and waiting for its confirmation.
type Client interface {
	// PublishLimit sends the limit to the given device and returns the
	// command identifier used to track the confirmation.
	PublishLimit(ctx context.Context, deviceID string, limit model.InverterControlLimit) (commandID string, err error)

	// WaitForAck waits for a confirmation of the provided command
	// identifier or until the timeout expires.
	WaitForAck(commandID string, timeout time.Duration) (bool, error)
}

// Actuator applies limits through a Client. A zero AckTimeout publishes
// without waiting for the gateway confirmation.
type Actuator struct {
	Client     Client
	DeviceID   string
	AckTimeout time.Duration
}

// Apply publishes the limit and optionally waits for its confirmation.
func (a Actuator) Apply(ctx context.Context, limit model.InverterControlLimit) error {
	id, err := a.Client.PublishLimit(ctx, a.DeviceID, limit)
	if err != nil {
		return err
	}
	if a.AckTimeout <= 0 {
		return nil
	}
	ok, err := a.Client.WaitForAck(id, a.AckTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAckTimeout
	}
	return nil
}
