// Package mqtt publishes tag values to an MQTT broker.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"ablink/config"
	"ablink/logging"
)

// TagMessage is the JSON payload published per tag.
type TagMessage struct {
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value"`
	Type      string      `json:"type,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher maintains one broker connection and publishes tag values,
// suppressing repeats of unchanged values.
type Publisher struct {
	cfg     *config.MQTTConfig
	client  pahomqtt.Client
	running bool
	mu      sync.RWMutex

	lastValues map[string]string
	lastMu     sync.Mutex
}

// NewPublisher creates a publisher for one broker.
func NewPublisher(cfg *config.MQTTConfig) *Publisher {
	return &Publisher{
		cfg:        cfg,
		lastValues: make(map[string]string),
	}
}

// Name returns the publisher's configured name.
func (p *Publisher) Name() string { return p.cfg.Name }

// IsRunning reports whether the broker connection is up.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running && p.client != nil && p.client.IsConnected()
}

// Start connects to the broker.
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	port := p.cfg.Port
	scheme := "tcp"
	if p.cfg.UseTLS {
		scheme = "ssl"
		if port == 0 {
			port = 8883
		}
	} else if port == 0 {
		port = 1883
	}

	clientID := p.cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("ablink-%s", p.cfg.Name)
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, p.cfg.Broker, port))
	opts.SetClientID(clientID)
	opts.SetUsername(p.cfg.Username)
	opts.SetPassword(p.cfg.Password)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	if p.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.OnConnect = func(pahomqtt.Client) {
		logging.DebugLog("mqtt", "%s: connected to %s:%d", p.cfg.Name, p.cfg.Broker, port)
	}
	opts.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		logging.DebugLog("mqtt", "%s: connection lost: %v", p.cfg.Name, err)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt %s: connect timeout", p.cfg.Name)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt %s: connect: %w", p.cfg.Name, err)
	}

	p.client = client
	p.running = true
	return nil
}

// Stop disconnects from the broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.client.Disconnect(250)
	p.client = nil
	p.running = false

	p.lastMu.Lock()
	p.lastValues = make(map[string]string)
	p.lastMu.Unlock()
}

// PublishTag publishes one tag value under <root>/<plc>/<tag>. A value
// identical to the previous publish for the same tag is skipped.
func (p *Publisher) PublishTag(plc, tag string, value interface{}, typeName string) error {
	p.mu.RLock()
	client := p.client
	running := p.running
	p.mu.RUnlock()

	if !running || client == nil {
		return fmt.Errorf("mqtt %s: not connected", p.cfg.Name)
	}

	key := plc + "/" + tag
	rendered := fmt.Sprintf("%v", value)

	p.lastMu.Lock()
	if prev, ok := p.lastValues[key]; ok && prev == rendered {
		p.lastMu.Unlock()
		return nil
	}
	p.lastValues[key] = rendered
	p.lastMu.Unlock()

	msg := TagMessage{
		PLC:       plc,
		Tag:       tag,
		Value:     value,
		Type:      typeName,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mqtt %s: marshal %s: %w", p.cfg.Name, key, err)
	}

	root := p.cfg.RootTopic
	if root == "" {
		root = "ablink"
	}
	topic := fmt.Sprintf("%s/%s/%s", root, plc, tag)

	token := client.Publish(topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt %s: publish timeout on %s", p.cfg.Name, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt %s: publish %s: %w", p.cfg.Name, topic, err)
	}

	logging.DebugLog("mqtt", "%s: published %s", p.cfg.Name, topic)
	return nil
}
