// Package kafka publishes tag values to a Kafka topic.
package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"ablink/config"
	"ablink/logging"
)

// TagMessage is the JSON payload produced per tag. The message key is
// <plc>/<tag> so per-tag ordering survives partitioning.
type TagMessage struct {
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value"`
	Type      string      `json:"type,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Producer writes tag values to one topic on one cluster.
type Producer struct {
	cfg     *config.KafkaConfig
	writer  *kafka.Writer
	running bool
	mu      sync.RWMutex

	sent   int64
	errors int64
}

// NewProducer creates a producer for one cluster/topic pair.
func NewProducer(cfg *config.KafkaConfig) *Producer {
	return &Producer{cfg: cfg}
}

// Name returns the producer's configured name.
func (p *Producer) Name() string { return p.cfg.Name }

// IsRunning reports whether the writer is active.
func (p *Producer) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Stats returns message counters.
func (p *Producer) Stats() (sent, errors int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sent, p.errors
}

func (p *Producer) saslMechanism() (sasl.Mechanism, error) {
	switch p.cfg.SASLMechanism {
	case "":
		return nil, nil
	case "plain":
		return plain.Mechanism{Username: p.cfg.Username, Password: p.cfg.Password}, nil
	case "scram-sha-256":
		return scram.Mechanism(scram.SHA256, p.cfg.Username, p.cfg.Password)
	case "scram-sha-512":
		return scram.Mechanism(scram.SHA512, p.cfg.Username, p.cfg.Password)
	default:
		return nil, fmt.Errorf("kafka %s: unknown sasl mechanism %q", p.cfg.Name, p.cfg.SASLMechanism)
	}
}

// Start builds the writer and verifies connectivity by fetching topic
// metadata from the first broker.
func (p *Producer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	mechanism, err := p.saslMechanism()
	if err != nil {
		return err
	}

	transport := &kafka.Transport{SASL: mechanism, DialTimeout: 5 * time.Second}
	dialer := &kafka.Dialer{Timeout: 5 * time.Second, SASLMechanism: mechanism}
	if p.cfg.UseTLS {
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
		transport.TLS = tlsCfg
		dialer.TLS = tlsCfg
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := dialer.DialContext(ctx, "tcp", p.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka %s: dial %s: %w", p.cfg.Name, p.cfg.Brokers[0], err)
	}
	_, err = conn.ReadPartitions(p.cfg.Topic)
	_ = conn.Close()
	if err != nil {
		return fmt.Errorf("kafka %s: topic %s metadata: %w", p.cfg.Name, p.cfg.Topic, err)
	}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(p.cfg.Brokers...),
		Topic:        p.cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 5 * time.Second,
		Transport:    transport,
	}
	p.running = true
	logging.DebugLog("kafka", "%s: producing to %s on %v", p.cfg.Name, p.cfg.Topic, p.cfg.Brokers)
	return nil
}

// Stop closes the writer.
func (p *Producer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	_ = p.writer.Close()
	p.writer = nil
	p.running = false
}

// PublishTag produces one tag value message.
func (p *Producer) PublishTag(plc, tag string, value interface{}, typeName string) error {
	p.mu.RLock()
	writer := p.writer
	running := p.running
	p.mu.RUnlock()

	if !running || writer == nil {
		return fmt.Errorf("kafka %s: not connected", p.cfg.Name)
	}

	msg := TagMessage{
		PLC:       plc,
		Tag:       tag,
		Value:     value,
		Type:      typeName,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("kafka %s: marshal %s/%s: %w", p.cfg.Name, plc, tag, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(plc + "/" + tag),
		Value: payload,
	})

	p.mu.Lock()
	if err != nil {
		p.errors++
	} else {
		p.sent++
	}
	p.mu.Unlock()

	if err != nil {
		return fmt.Errorf("kafka %s: write %s/%s: %w", p.cfg.Name, plc, tag, err)
	}
	return nil
}
