package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/dercontrol/core/ack"
	"github.com/kilianp07/dercontrol/core/model"
	coremon "github.com/kilianp07/dercontrol/core/monitoring"
	coremqtt "github.com/kilianp07/dercontrol/core/mqtt"
	"github.com/kilianp07/dercontrol/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string          `json:"broker"`
	ClientID   string          `json:"client_id"`
	Username   string          `json:"username"`
	Password   string          `json:"password"`
	UseTLS     bool            `json:"use_tls"`
	ClientCert string          `json:"client_cert"`
	ClientKey  string          `json:"client_key"`
	CABundle   string          `json:"ca_bundle"`
	AuthMethod string          `json:"auth_method"`
	QoS        map[string]byte `json:"qos"`
	LWTTopic   string          `json:"lwt_topic"`
	LWTPayload string          `json:"lwt_payload"`
	LWTQoS     byte            `json:"lwt_qos"`
	LWTRetain  bool            `json:"lwt_retain"`
	MaxRetries int             `json:"max_retries"`
	BackoffMS  int             `json:"backoff_ms"`
	Topics     Topics          `json:"topics"`
	TLSConfig  *tls.Config     `json:"-"`
	// CommandAckTimeoutMS waits for the gateway confirmation of each limit
	// command. Zero publishes without waiting.
	CommandAckTimeoutMS int `json:"command_ack_timeout_ms"`
}

// Topics names the topics used by the service. Command and confirmation
// topics are formatted with the device ID.
type Topics struct {
	Command        string `json:"command"`
	CommandAck     string `json:"command_ack"`
	Responses      string `json:"responses"`
	Programs       string `json:"programs"`
	DefaultControl string `json:"default_control"`
	Site           string `json:"site"`
	Limits         string `json:"limits"`
	Settings       string `json:"settings"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "dercontrol-" + uuid.NewString()[:8]
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
	t := &c.Topics
	setDefault(&t.Command, "der/%s/limit")
	setDefault(&t.CommandAck, "der/%s/limit/ack")
	setDefault(&t.Responses, "der/responses")
	setDefault(&t.Programs, "der/programs")
	setDefault(&t.DefaultControl, "der/default_control")
	setDefault(&t.Site, "der/site")
	setDefault(&t.Limits, "der/limits")
	setDefault(&t.Settings, "der/settings")
}

func setDefault(s *string, v string) {
	if *s == "" {
		*s = v
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.AuthMethod {
	case "", "username_password", "mtls", "both":
	default:
		return fmt.Errorf("unknown auth_method %q", c.AuthMethod)
	}
	if c.UseTLS && c.TLSConfig == nil && (c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "") {
		return fmt.Errorf("tls requires client_cert, client_key and ca_bundle")
	}
	return nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// PahoClient publishes limit commands and acknowledgement responses using
// Eclipse Paho. It implements core mqtt.Client and ack.Sender.
type PahoClient struct {
	cli    pahoClient
	topics Topics
	qos    map[string]byte

	mu         sync.Mutex
	ackChans   map[string]chan struct{}
	trackAcks  bool
	subs       map[string]paho.MessageHandler
	logger     logger.Logger
	maxRetries int
	backoff    time.Duration
}

var _ coremqtt.Client = (*PahoClient)(nil)
var _ ack.Sender = (*PahoClient)(nil)

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the MQTT broker. Subscriptions added later are
// restored on every reconnect.
func NewPahoClient(cfg Config) (*PahoClient, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	pc := &PahoClient{
		topics:     cfg.Topics,
		qos:        cfg.QoS,
		ackChans:   make(map[string]chan struct{}),
		subs:       make(map[string]paho.MessageHandler),
		logger:     log,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		pc.mu.Lock()
		subs := make(map[string]paho.MessageHandler, len(pc.subs))
		for t, h := range pc.subs {
			subs[t] = h
		}
		pc.mu.Unlock()
		for topic, h := range subs {
			if token := c.Subscribe(topic, pc.qosFor("subscribe"), h); token.Wait() && token.Error() != nil {
				log.Errorf("resubscribe %s: %v", topic, token.Error())
			}
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	pc.cli = c
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

func (p *PahoClient) qosFor(kind string) byte {
	if q, ok := p.qos[kind]; ok {
		return q
	}
	return 0
}

// Subscribe registers h on topic and keeps it across reconnects.
func (p *PahoClient) Subscribe(topic string, h paho.MessageHandler) error {
	p.mu.Lock()
	p.subs[topic] = h
	p.mu.Unlock()
	token := p.cli.Subscribe(topic, p.qosFor("subscribe"), h)
	token.Wait()
	return token.Error()
}

// publish sends payload with bounded retries and exponential backoff.
func (p *PahoClient) publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, false, payload)
		token.Wait()
		if err = token.Error(); err == nil {
			return nil
		}
		p.logger.Errorf("publish to %s attempt %d failed: %v", topic, attempt+1, err)
		if attempt == p.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff * time.Duration(1<<attempt)):
		}
	}
	return err
}

type limitCommand struct {
	CommandID string                     `json:"command_id"`
	DeviceID  string                     `json:"device_id"`
	Limit     model.InverterControlLimit `json:"limit"`
	Timestamp int64                      `json:"timestamp"`
}

// PublishLimit sends the limit to the device command topic and returns the
// command identifier used for confirmation tracking.
func (p *PahoClient) PublishLimit(ctx context.Context, deviceID string, limit model.InverterControlLimit) (string, error) {
	cmdID := uuid.NewString()
	payload, err := json.Marshal(limitCommand{
		CommandID: cmdID,
		DeviceID:  deviceID,
		Limit:     limit,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	if p.trackAcks {
		p.ackChans[cmdID] = make(chan struct{}, 1)
	}
	p.mu.Unlock()

	topic := fmt.Sprintf(p.topics.Command, deviceID)
	if err := p.publish(ctx, topic, p.qosFor("command"), payload); err != nil {
		p.mu.Lock()
		delete(p.ackChans, cmdID)
		p.mu.Unlock()
		coremon.CaptureException(err, map[string]string{"device_id": deviceID, "module": "mqtt"})
		return "", err
	}
	p.logger.Debugf("sent limit %s to %s", cmdID, topic)
	return cmdID, nil
}

// WatchCommandAcks subscribes to the confirmation topic of deviceID. Only
// commands published afterwards can be waited for.
func (p *PahoClient) WatchCommandAcks(deviceID string) error {
	p.mu.Lock()
	p.trackAcks = true
	p.mu.Unlock()
	return p.Subscribe(fmt.Sprintf(p.topics.CommandAck, deviceID), p.onAck)
}

func (p *PahoClient) onAck(_ paho.Client, msg paho.Message) {
	var m struct {
		CommandID string `json:"command_id"`
	}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		p.logger.Errorf("failed to decode ack: %v", err)
		return
	}
	p.mu.Lock()
	ch, ok := p.ackChans[m.CommandID]
	if ok {
		select {
		case ch <- struct{}{}:
		default:
		}
		p.logger.Debugf("received ack %s", m.CommandID)
	}
	p.mu.Unlock()
}

// WaitForAck blocks until an ACK for the given command ID is received or timeout.
func (p *PahoClient) WaitForAck(commandID string, timeout time.Duration) (bool, error) {
	p.mu.Lock()
	ch := p.ackChans[commandID]
	p.mu.Unlock()
	if ch == nil {
		return false, fmt.Errorf("unknown command")
	}
	defer func() {
		p.mu.Lock()
		delete(p.ackChans, commandID)
		p.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true, nil
	case <-timer.C:
		return false, fmt.Errorf("%w", coremqtt.ErrAckTimeout)
	}
}

// SendResponse publishes an event acknowledgement on the responses topic.
func (p *PahoClient) SendResponse(ctx context.Context, r ack.Response) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return p.publish(ctx, p.topics.Responses, p.qosFor("response"), payload)
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
