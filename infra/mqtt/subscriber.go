package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/dercontrol/core/coordinator"
	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/core/policy"
	"github.com/kilianp07/dercontrol/core/scheduler"
	"github.com/kilianp07/dercontrol/infra/logger"
)

type programMessage struct {
	scheduler.ProgramFixture
	Remove bool `json:"remove"`
}

type defaultControlMessage struct {
	Values map[string]float64 `json:"values"`
}

type settingsMessage struct {
	RampPercentPerSecond *float64 `json:"ramp_percent_per_second"`
}

// subscriber abstracts PahoClient.Subscribe for tests.
type subscriber interface {
	Subscribe(topic string, h paho.MessageHandler) error
}

// Feeds turns inbound MQTT messages into control loop messages.
type Feeds struct {
	out       coordinator.Channels
	published *policy.Published
	now       func() time.Time
	ctx       context.Context
	log       logger.Logger
}

// NewFeeds creates feeds writing to out. published may be nil when no
// published limit policy is configured.
func NewFeeds(ctx context.Context, out coordinator.Channels, published *policy.Published) *Feeds {
	return &Feeds{out: out, published: published, now: time.Now, ctx: ctx, log: logger.New("mqtt_feeds")}
}

// Subscribe registers every feed topic on s.
func (f *Feeds) Subscribe(s subscriber, topics Topics) error {
	handlers := map[string]func([]byte) error{
		topics.Programs:       f.handleProgram,
		topics.DefaultControl: f.handleDefaultControl,
		topics.Site:           f.handleSite,
		topics.Settings:       f.handleSettings,
	}
	if f.published != nil {
		handlers[topics.Limits] = f.handleLimits
	}
	for topic, h := range handlers {
		if err := s.Subscribe(topic, f.wrap(topic, h)); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

func (f *Feeds) wrap(topic string, h func([]byte) error) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		if err := h(msg.Payload()); err != nil {
			f.log.Warnf("drop message on %s: %v", topic, err)
		}
	}
}

func send[T any](ctx context.Context, ch chan T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feeds) handleProgram(b []byte) error {
	var m programMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if m.ID == "" {
		return fmt.Errorf("program without id")
	}
	if m.Remove {
		return send(f.ctx, f.out.Programs, coordinator.ProgramUpdate{Program: model.Program{ID: m.ID}, Remove: true})
	}
	fx := scheduler.Fixture{Programs: []scheduler.ProgramFixture{m.ProgramFixture}}
	pes, err := fx.ProgramEvents()
	if err != nil {
		f.log.Warnf("program %s: %v", m.ID, err)
	}
	if err := send(f.ctx, f.out.Programs, coordinator.ProgramUpdate{Program: pes[0].Program, Events: pes[0].Events}); err != nil {
		return err
	}
	dc, ok, err := fx.DefaultControl()
	if err != nil {
		f.log.Warnf("ignore default control of program %s: %v", m.ID, err)
		return nil
	}
	if ok {
		dc.UpdatedAt = f.now()
		return send(f.ctx, f.out.Defaults, dc)
	}
	return nil
}

func (f *Feeds) handleDefaultControl(b []byte) error {
	var m defaultControlMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	vals, err := scheduler.ParseValues(m.Values)
	if err != nil {
		return err
	}
	return send(f.ctx, f.out.Defaults, model.DefaultControl{Values: vals, UpdatedAt: f.now()})
}

func (f *Feeds) handleSite(b []byte) error {
	var s model.SiteSample
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s.Time.IsZero() {
		s.Time = f.now()
	}
	return send(f.ctx, f.out.Sites, s)
}

func (f *Feeds) handleLimits(b []byte) error {
	var named map[string]float64
	if err := json.Unmarshal(b, &named); err != nil {
		return err
	}
	vals, err := scheduler.ParseValues(named)
	if err != nil {
		return err
	}
	f.published.Set(model.LimitFromValues(model.SourceMQTT, vals), f.now())
	return nil
}

func (f *Feeds) handleSettings(b []byte) error {
	var m settingsMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if m.RampPercentPerSecond == nil {
		return nil
	}
	return send(f.ctx, f.out.Gradients, *m.RampPercentPerSecond)
}
