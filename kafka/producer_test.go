package kafka

import (
	"strings"
	"testing"

	"github.com/segmentio/kafka-go/sasl/plain"

	"ablink/config"
)

func TestSASLMechanismSelection(t *testing.T) {
	p := NewProducer(&config.KafkaConfig{Name: "k"})
	m, err := p.saslMechanism()
	if err != nil || m != nil {
		t.Errorf("no sasl: %v, %v", m, err)
	}

	p = NewProducer(&config.KafkaConfig{Name: "k", SASLMechanism: "plain", Username: "u", Password: "s"})
	m, err = p.saslMechanism()
	if err != nil {
		t.Fatalf("plain: %v", err)
	}
	if _, ok := m.(plain.Mechanism); !ok {
		t.Errorf("mechanism = %T, want plain.Mechanism", m)
	}

	for _, name := range []string{"scram-sha-256", "scram-sha-512"} {
		p = NewProducer(&config.KafkaConfig{Name: "k", SASLMechanism: name, Username: "u", Password: "s"})
		if m, err = p.saslMechanism(); err != nil || m == nil {
			t.Errorf("%s: %v, %v", name, m, err)
		}
	}

	p = NewProducer(&config.KafkaConfig{Name: "k", SASLMechanism: "ntlm"})
	if _, err = p.saslMechanism(); err == nil {
		t.Error("expected error for unknown mechanism")
	}
}

func TestProducerNotConnected(t *testing.T) {
	p := NewProducer(&config.KafkaConfig{Name: "k", Brokers: []string{"b:9092"}, Topic: "t"})

	if p.IsRunning() {
		t.Error("unstarted producer reports running")
	}
	err := p.PublishTag("line1", "Counts", int64(26), "INT")
	if err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Errorf("PublishTag = %v", err)
	}

	sent, errs := p.Stats()
	if sent != 0 || errs != 0 {
		t.Errorf("stats = %d, %d", sent, errs)
	}

	p.Stop()
}
