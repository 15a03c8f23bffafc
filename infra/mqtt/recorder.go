package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/dercontrol/core/ack"
	"github.com/kilianp07/dercontrol/core/model"
	coremqtt "github.com/kilianp07/dercontrol/core/mqtt"
	"github.com/kilianp07/dercontrol/infra/logger"
)

// Client mirrors the core mqtt.Client interface.
type Client = coremqtt.Client

// RecordingClient keeps the last limit per device and every response
// instead of publishing them. It backs the dry-run mode used when no broker
// is configured.
type RecordingClient struct {
	mu        sync.Mutex
	seq       int
	Limits    map[string]model.InverterControlLimit
	Responses []ack.Response
	FailIDs   map[string]bool
	log       logger.Logger
}

var _ Client = (*RecordingClient)(nil)

// NewRecordingClient creates an empty RecordingClient.
func NewRecordingClient() *RecordingClient {
	return &RecordingClient{
		Limits:  make(map[string]model.InverterControlLimit),
		FailIDs: make(map[string]bool),
		log:     logger.New("mqtt_dry_run"),
	}
}

// PublishLimit records the limit or returns an error if configured to fail.
func (m *RecordingClient) PublishLimit(_ context.Context, deviceID string, limit model.InverterControlLimit) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIDs[deviceID] {
		return "", fmt.Errorf("publish failed")
	}
	m.Limits[deviceID] = limit
	m.seq++
	m.log.Infof("dry run: %s <- %s", deviceID, limit)
	return fmt.Sprintf("cmd-%s-%d", deviceID, m.seq), nil
}

// WaitForAck confirms every recorded command immediately.
func (m *RecordingClient) WaitForAck(string, time.Duration) (bool, error) {
	return true, nil
}

// SendResponse records the response.
func (m *RecordingClient) SendResponse(_ context.Context, r ack.Response) error {
	m.mu.Lock()
	m.Responses = append(m.Responses, r)
	m.mu.Unlock()
	m.log.Infof("dry run: response %s for %s", r.Status, r.MRID)
	return nil
}

// Limit returns the last limit recorded for deviceID.
func (m *RecordingClient) Limit(deviceID string) (model.InverterControlLimit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.Limits[deviceID]
	return l, ok
}
