package ack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kilianp07/dercontrol/core/events"
	"github.com/kilianp07/dercontrol/core/logger"
	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/core/monitoring"
	"github.com/kilianp07/dercontrol/internal/eventbus"
)

// ErrNoSender is returned by NewProtocol when no transport is supplied.
var ErrNoSender = errors.New("ack: nil sender")

// DeliveryMode decides when a record enters the history.
type DeliveryMode string

const (
	// BestEffort records before sending; a failed delivery is dropped.
	BestEffort DeliveryMode = "best_effort"
	// AtLeastOnce records only after a successful send so that the next
	// evaluation retries.
	AtLeastOnce DeliveryMode = "at_least_once"
)

// Config holds acknowledgement settings.
type Config struct {
	HistorySize int          `json:"history_size" yaml:"history_size"`
	Mode        DeliveryMode `json:"mode" yaml:"mode"`
	DeviceID    string       `json:"device_id" yaml:"device_id"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.Mode == "" {
		c.Mode = BestEffort
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch DeliveryMode(strings.ToLower(string(c.Mode))) {
	case BestEffort, AtLeastOnce:
	default:
		return fmt.Errorf("ack: unknown delivery mode %q", c.Mode)
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("ack: negative history size %d", c.HistorySize)
	}
	return nil
}

// Target identifies the event an acknowledgement refers to.
type Target struct {
	MRID             string
	ResponseRequired model.ResponseRequired
	ReplyTo          string
}

// TargetOf builds a Target from an effective schedule.
func TargetOf(s model.EffectiveSchedule) Target {
	return Target{MRID: s.MRID, ResponseRequired: s.ResponseRequired, ReplyTo: s.ReplyTo}
}

// TargetOfEvent builds a Target from a control event.
func TargetOfEvent(e model.ControlEvent) Target {
	return Target{MRID: e.MRID, ResponseRequired: e.ResponseRequired, ReplyTo: e.ReplyTo}
}

// Response is the payload handed to the transport.
type Response struct {
	MRID     string    `json:"mrid"`
	Status   Status    `json:"status"`
	ReplyTo  string    `json:"reply_to"`
	DeviceID string    `json:"device_id,omitempty"`
	Time     time.Time `json:"time"`
}

// Sender delivers responses to the issuer.
type Sender interface {
	SendResponse(ctx context.Context, r Response) error
}

// Owed reports whether status must be acknowledged for t at all.
func Owed(t Target, status Status) bool {
	if t.ReplyTo == "" || t.MRID == "" {
		return false
	}
	switch t.ResponseRequired {
	case model.ResponseNone:
		return false
	case model.ResponseMessageReceivedOnly:
		return status == EventReceived
	default:
		return true
	}
}

// Protocol decides whether an acknowledgement is owed and sends it once.
type Protocol struct {
	mu      sync.Mutex
	cfg     Config
	history *History
	sender  Sender
	log     logger.Logger
	bus     *eventbus.TypedBus[events.AckEvent]
	now     func() time.Time
}

// NewProtocol creates a protocol using its own history.
func NewProtocol(cfg Config, sender Sender, log logger.Logger) (*Protocol, error) {
	return NewProtocolWithHistory(cfg, NewHistory(cfg.HistorySize), sender, log)
}

// NewProtocolWithHistory creates a protocol around an injected history.
func NewProtocolWithHistory(cfg Config, h *History, sender Sender, log logger.Logger) (*Protocol, error) {
	if sender == nil {
		return nil, ErrNoSender
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Mode = DeliveryMode(strings.ToLower(string(cfg.Mode)))
	if h == nil {
		h = NewHistory(cfg.HistorySize)
	}
	return &Protocol{cfg: cfg, history: h, sender: sender, log: log, now: time.Now}, nil
}

// SetBus publishes an AckEvent for every attempted send.
func (p *Protocol) SetBus(bus *eventbus.TypedBus[events.AckEvent]) {
	p.mu.Lock()
	p.bus = bus
	p.mu.Unlock()
}

// History exposes the dedup history.
func (p *Protocol) History() *History { return p.history }

// Acknowledge sends status for t unless it is not owed or was already sent.
// It returns whether a send was attempted. Transport errors are logged and
// counted, never retried here.
func (p *Protocol) Acknowledge(ctx context.Context, t Target, status Status) bool {
	if !Owed(t, status) {
		return false
	}
	rec := Record{MRID: t.MRID, Status: status}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.history.Contains(rec) {
		ackSuppressed.Inc()
		return false
	}
	if p.cfg.Mode == BestEffort {
		p.history.Add(rec)
	}

	resp := Response{MRID: t.MRID, Status: status, ReplyTo: t.ReplyTo, DeviceID: p.cfg.DeviceID, Time: p.now()}
	err := p.sender.SendResponse(ctx, resp)
	if err != nil {
		ackFailures.WithLabelValues(status.String()).Inc()
		p.log.Errorf("ack %s for %s to %s failed: %v", status, t.MRID, t.ReplyTo, err)
		monitoring.CaptureException(err, map[string]string{"mrid": t.MRID, "status": status.String()})
	} else {
		ackSent.WithLabelValues(status.String()).Inc()
		if p.cfg.Mode == AtLeastOnce {
			p.history.Add(rec)
		}
		p.log.Debugw("ack sent", map[string]any{"mrid": t.MRID, "status": status.String(), "reply_to": t.ReplyTo})
	}
	if p.bus != nil {
		p.bus.Publish(events.AckEvent{MRID: t.MRID, Status: status.String(), ReplyTo: t.ReplyTo, Err: err, Time: resp.Time})
	}
	return true
}
