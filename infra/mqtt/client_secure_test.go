package mqtt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/dercontrol/core/ack"
	"github.com/kilianp07/dercontrol/core/model"
	coremon "github.com/kilianp07/dercontrol/core/monitoring"
	coremqtt "github.com/kilianp07/dercontrol/core/mqtt"
)

// helper to generate self-signed cert
func generateCert(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "test"}, NotBefore: time.Now(), NotAfter: time.Now().Add(time.Hour)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	dir := t.TempDir()
	certFile = dir + "/cert.pem"
	keyFile = dir + "/key.pem"
	caFile = dir + "/ca.pem"
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0644); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if err := os.WriteFile(caFile, certPEM, 0644); err != nil {
		t.Fatalf("write ca: %v", err)
	}
	return
}

func withMock(t *testing.T, mc *mockClient) {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() {
		newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) }
	})
}

func TestLoadTLSConfig(t *testing.T) {
	cert, key, ca := generateCert(t)
	cfg := Config{UseTLS: true, ClientCert: cert, ClientKey: key, CABundle: ca}
	tlsCfg, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("load tls: %v", err)
	}
	if len(tlsCfg.Certificates) == 0 {
		t.Fatalf("no certs loaded")
	}
	if tlsCfg.RootCAs == nil {
		t.Fatalf("no root CAs")
	}
}

func TestNewClientOptionsAuth(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("opts: %v", err)
	}
	if opts.Username != "u" || opts.Password != "p" {
		t.Fatalf("auth not set")
	}
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	if cfg.Topics.Command != "der/%s/limit" || cfg.Topics.Responses != "der/responses" {
		t.Fatalf("unexpected topic defaults: %+v", cfg.Topics)
	}
	if cfg.ClientID == "" || cfg.MaxRetries != 3 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := (Config{AuthMethod: "kerberos"}).Validate(); err == nil {
		t.Fatalf("expected unknown auth method error")
	}
	if err := (Config{UseTLS: true}).Validate(); err == nil {
		t.Fatalf("expected tls files error")
	}
}

func TestPublishLimitAndConfirmation(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", QoS: map[string]byte{"command": 2, "subscribe": 1}}
	cli, err := NewPahoClient(cfg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if err := cli.WatchCommandAcks("inv1"); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(mc.subscribed) != 1 || mc.subscribed[0].qos != 1 || mc.subscribed[0].topic != "der/inv1/limit/ack" {
		t.Fatalf("unexpected subscriptions: %+v", mc.subscribed)
	}
	limit := model.InverterControlLimit{ExportLimitW: model.Ptr(1500.0)}
	cmdID, err := cli.PublishLimit(context.Background(), "inv1", limit)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(mc.published) != 1 || mc.published[0].qos != 2 || mc.published[0].topic != "der/inv1/limit" {
		t.Fatalf("unexpected publish: %+v", mc.published)
	}
	var cmd limitCommand
	if err := json.Unmarshal(mc.published[0].payload, &cmd); err != nil {
		t.Fatalf("decode command: %v", err)
	}
	if cmd.CommandID != cmdID || cmd.Limit.ExportLimitW == nil || *cmd.Limit.ExportLimitW != 1500 {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	payload := fmt.Sprintf(`{"command_id":"%s"}`, cmdID)
	mc.deliver("der/inv1/limit/ack", []byte(payload))
	ok, err := cli.WaitForAck(cmdID, time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("ack wait failed: %v", err)
	}

	act := coremqtt.Actuator{Client: cli, DeviceID: "inv1", AckTimeout: time.Millisecond}
	if err := act.Apply(context.Background(), limit); !errors.Is(err, coremqtt.ErrAckTimeout) {
		t.Fatalf("expected ack timeout, got %v", err)
	}
}

func TestLWTConfigured(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", LWTTopic: "lwt", LWTPayload: "bye", LWTQoS: 1}
	cli, err := NewPahoClient(cfg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if !mc.opts.WillEnabled {
		t.Fatalf("will not enabled")
	}
	if mc.opts.WillTopic != "lwt" || string(mc.opts.WillPayload) != "bye" {
		t.Fatalf("will options incorrect")
	}
	cli.Disconnect()
	if len(mc.published) != 0 {
		t.Fatalf("unexpected publish on disconnect")
	}
}

func TestRetryLogic(t *testing.T) {
	mc := &mockClient{publishErrs: []error{fmt.Errorf("net fail"), nil}}
	withMock(t, mc)
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 1, BackoffMS: 1}
	cli, err := NewPahoClient(cfg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := cli.PublishLimit(context.Background(), "inv1", model.InverterControlLimit{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(mc.published) != 2 {
		t.Fatalf("expected retries")
	}
}

func TestWaitForAckUnknownCommand(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	// not watching confirmations, so nothing is tracked
	cmdID, _ := cli.PublishLimit(context.Background(), "inv1", model.InverterControlLimit{})
	ok, err := cli.WaitForAck(cmdID, time.Millisecond)
	if err == nil || ok {
		t.Fatalf("expected error for untracked command")
	}
}

type recordMonitor struct {
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.err = err
	r.tags = tags
}
func (r *recordMonitor) CapturePanic(any, map[string]string) {}
func (r *recordMonitor) Flush(time.Duration)                 {}

func TestPublishErrorCaptured(t *testing.T) {
	fail := fmt.Errorf("net fail")
	mc := &mockClient{publishErrs: []error{fail, fail, fail, fail}}
	withMock(t, mc)
	mon := &recordMonitor{}
	coremon.Init(mon)
	defer coremon.Init(coremon.NopMonitor{})
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", BackoffMS: 1})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := cli.PublishLimit(context.Background(), "inv1", model.InverterControlLimit{}); err == nil {
		t.Fatalf("expected error")
	}
	if mon.err == nil {
		t.Fatalf("error not captured")
	}
	if mon.tags["device_id"] != "inv1" || mon.tags["module"] != "mqtt" {
		t.Fatalf("tags not set")
	}
}

func TestSendResponse(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", QoS: map[string]byte{"response": 1}})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	resp := ack.Response{MRID: "E1", Status: ack.EventStarted, ReplyTo: "/rsps/1", DeviceID: "lfdi", Time: time.Unix(10, 0).UTC()}
	if err := cli.SendResponse(context.Background(), resp); err != nil {
		t.Fatalf("send response: %v", err)
	}
	if len(mc.published) != 1 || mc.published[0].topic != "der/responses" || mc.published[0].qos != 1 {
		t.Fatalf("unexpected publish: %+v", mc.published)
	}
	var got ack.Response
	if err := json.Unmarshal(mc.published[0].payload, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MRID != "E1" || got.Status != ack.EventStarted || got.ReplyTo != "/rsps/1" || got.DeviceID != "lfdi" || !got.Time.Equal(resp.Time) {
		t.Fatalf("got %+v want %+v", got, resp)
	}
}

func TestResubscribeOnReconnect(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if err := cli.Subscribe("der/site", func(paho.Client, paho.Message) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	mc.Connect()
	if len(mc.subscribed) != 2 {
		t.Fatalf("expected resubscription, got %+v", mc.subscribed)
	}
}

type subscription struct {
	topic string
	qos   byte
}

type publication struct {
	topic   string
	qos     byte
	payload []byte
}

// mockClient implements pahoClient for tests
type mockClient struct {
	mu          sync.Mutex
	opts        *paho.ClientOptions
	subscribed  []subscription
	handlers    map[string]paho.MessageHandler
	published   []publication
	publishErrs []error
}

func (m *mockClient) deliver(topic string, payload []byte) {
	m.mu.Lock()
	h := m.handlers[topic]
	m.mu.Unlock()
	if h != nil {
		h(m, mockMessage{topic: topic, p: payload})
	}
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) {}
func (m *mockClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := payload.([]byte)
	m.published = append(m.published, publication{topic, qos, b})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}
func (m *mockClient) Subscribe(topic string, qos byte, h paho.MessageHandler) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, subscription{topic, qos})
	if m.handlers == nil {
		m.handlers = make(map[string]paho.MessageHandler)
	}
	m.handlers[topic] = h
	return &dummyToken{}
}
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return &dummyToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return true }

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type mockMessage struct {
	topic string
	p     []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}
