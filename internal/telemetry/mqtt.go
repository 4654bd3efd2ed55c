package telemetry

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the optional telemetry publisher.
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	Username string
	Password string
	Topic    string
	TLS      MQTTTLSConfig
}

// MQTTTLSConfig mirrors the teacher's TLS loading shape.
type MQTTTLSConfig struct {
	Enabled    bool
	CACert     string
	ClientCert string
	ClientKey  string
}

// eventPayload is one rig/SDR frequency or band-change notification.
type eventPayload struct {
	Timestamp int64  `json:"timestamp"`
	Event     string `json:"event"`
	RigHz     *int64 `json:"rig_hz,omitempty"`
	SDRHz     *int64 `json:"sdr_hz,omitempty"`
	Band      string `json:"band,omitempty"`
	SyncOn    *bool  `json:"sync_on,omitempty"`
}

// Publisher sends engine events to an MQTT broker. Supplements the
// original Python source, which has no telemetry fan-out of its own.
type Publisher struct {
	client mqtt.Client
	topic  string

	lastRig *int64
	lastSDR *int64
}

func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "pansyncer_" + hex.EncodeToString(b)
}

func loadTLSConfig(cfg MQTTTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// NewPublisher connects to cfg.Broker and returns a ready Publisher.
// A disabled config returns (nil, nil): callers should treat a nil
// Publisher as "telemetry off".
func NewPublisher(cfg MQTTConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	tlsCfg, err := loadTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("mqtt tls config: %w", err)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(generateClientID())
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	topic := cfg.Topic
	if topic == "" {
		topic = "pansyncer/events"
	}
	return &Publisher{client: client, topic: topic}, nil
}

func (p *Publisher) publish(payload eventPayload) {
	payload.Timestamp = time.Now().UnixMilli()
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	p.client.Publish(p.topic, 0, false, body)
}

// PublishFrequency sends a rig/SDR frequency snapshot.
func (p *Publisher) PublishFrequency(rigHz, sdrHz *int64) {
	if p == nil {
		return
	}
	p.publish(eventPayload{Event: "frequency", RigHz: rigHz, SDRHz: sdrHz})
}

// PublishBandChange sends a band-name event.
func (p *Publisher) PublishBandChange(band string) {
	if p == nil {
		return
	}
	p.publish(eventPayload{Event: "band_change", Band: band})
}

// PublishSyncOn sends a sync_on event.
func (p *Publisher) PublishSyncOn(on bool) {
	if p == nil {
		return
	}
	p.publish(eventPayload{Event: "sync_on", SyncOn: &on})
}

// Close disconnects the MQTT client, if any.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.client.Disconnect(250)
}

// The methods below let a Publisher sit directly in a
// syncengine.Renderer fanout (structural typing, no import of
// syncengine needed here). SetRig and SetSDR publish a frequency event
// only when the value differs from the last one published, so a quiet
// rig doesn't flood the broker; SetBandName and SetSyncMode publish on
// every call, without deduplication.

func (p *Publisher) SetRig(freqHz *int64, connected bool) {
	if p == nil || !connected || !freqChanged(p.lastRig, freqHz) {
		return
	}
	p.lastRig = freqHz
	p.PublishFrequency(freqHz, p.lastSDR)
}

func (p *Publisher) SetSDR(freqHz *int64, connected bool) {
	if p == nil || !connected || !freqChanged(p.lastSDR, freqHz) {
		return
	}
	p.lastSDR = freqHz
	p.PublishFrequency(p.lastRig, freqHz)
}

func (p *Publisher) SetBandName(name string) {
	p.PublishBandChange(name)
}

func (p *Publisher) SetSyncMode(on bool) {
	p.PublishSyncOn(on)
}

func (p *Publisher) SetStepValue(hz int64) {}
func (p *Publisher) SetMode(label string)  {}
func (p *Publisher) SetIfreq(mhz float64)  {}
func (p *Publisher) Log(line string)       {}

func freqChanged(prev, cur *int64) bool {
	if prev == nil || cur == nil {
		return cur != prev
	}
	return *prev != *cur
}
