// Package config handles YAML configuration for the drivers and the
// poll/publish pipeline. Decoding is strict: unknown keys are rejected
// at the boundary.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PLCFamily selects the protocol family of a target.
type PLCFamily string

const (
	// FamilyLogix covers ControlLogix/CompactLogix, addressed by
	// symbolic tag names.
	FamilyLogix PLCFamily = "logix"
	// FamilySLC covers SLC-500/PLC-5/MicroLogix, addressed by data
	// table files through PCCC.
	FamilySLC PLCFamily = "slc"
)

// String returns the family name, defaulting empty to logix.
func (f PLCFamily) String() string {
	if f == "" {
		return string(FamilyLogix)
	}
	return string(f)
}

// Valid reports whether the family is one this module speaks.
func (f PLCFamily) Valid() bool {
	switch f {
	case "", FamilyLogix, FamilySLC:
		return true
	}
	return false
}

// SupportsDiscovery reports whether the family can enumerate its own
// tags. PCCC targets have no symbol table to walk.
func (f PLCFamily) SupportsDiscovery() bool {
	return f == "" || f == FamilyLogix
}

// Config is the complete application configuration.
type Config struct {
	PLCs     []PLCConfig    `yaml:"plcs"`
	MQTT     []MQTTConfig   `yaml:"mqtt,omitempty"`
	Valkey   []ValkeyConfig `yaml:"valkey,omitempty"`
	Kafka    []KafkaConfig  `yaml:"kafka,omitempty"`
	PollRate time.Duration  `yaml:"poll_rate,omitempty"`
	DebugLog string         `yaml:"debug_log,omitempty"` // path; empty disables
}

// PLCConfig holds one target's connection settings. The protocol
// fields default to the Rockwell reference values when zero.
type PLCConfig struct {
	Name    string    `yaml:"name"`
	Address string    `yaml:"address"`
	Family  PLCFamily `yaml:"family,omitempty"`
	Enabled bool      `yaml:"enabled"`

	Port             uint16        `yaml:"port,omitempty"`              // default 44818
	Timeout          time.Duration `yaml:"timeout,omitempty"`           // default 5s
	RPIMicros        uint32        `yaml:"rpi_us,omitempty"`            // default 5000
	Backplane        byte          `yaml:"backplane,omitempty"`         // default 1
	CPUSlot          byte          `yaml:"cpu_slot,omitempty"`          // default 0
	VendorID         uint16        `yaml:"vendor_id,omitempty"`         // default 0x1009
	VendorSerial     uint32        `yaml:"vendor_serial,omitempty"`     // default 0x71191009
	OriginatorSerial uint16        `yaml:"originator_serial,omitempty"` // default 0x0427

	// Tags polled each cycle. For Logix targets with discovery enabled
	// an empty list polls every discovered atomic tag.
	Tags         []string `yaml:"tags,omitempty"`
	DiscoverTags *bool    `yaml:"discover_tags,omitempty"`
}

// Discover reports whether the poller should enumerate tags for this
// target.
func (p *PLCConfig) Discover() bool {
	if !p.Family.SupportsDiscovery() {
		return false
	}
	if p.DiscoverTags == nil {
		return true
	}
	return *p.DiscoverTags
}

// MQTTConfig holds one MQTT broker connection.
type MQTTConfig struct {
	Name      string `yaml:"name"`
	Broker    string `yaml:"broker"`
	Port      int    `yaml:"port,omitempty"` // default 1883 (8883 with TLS)
	ClientID  string `yaml:"client_id,omitempty"`
	Username  string `yaml:"username,omitempty"`
	Password  string `yaml:"password,omitempty"`
	RootTopic string `yaml:"root_topic,omitempty"` // default "ablink"
	QoS       byte   `yaml:"qos,omitempty"`
	UseTLS    bool   `yaml:"use_tls,omitempty"`
	Enabled   bool   `yaml:"enabled"`
}

// ValkeyConfig holds one Valkey/Redis server connection.
type ValkeyConfig struct {
	Name      string        `yaml:"name"`
	Address   string        `yaml:"address"` // host:port
	Password  string        `yaml:"password,omitempty"`
	Database  int           `yaml:"database,omitempty"`
	KeyPrefix string        `yaml:"key_prefix,omitempty"` // default "ablink"
	TTL       time.Duration `yaml:"ttl,omitempty"`        // 0 = keys do not expire
	UseTLS    bool          `yaml:"use_tls,omitempty"`
	Enabled   bool          `yaml:"enabled"`
}

// KafkaConfig holds one Kafka cluster connection.
type KafkaConfig struct {
	Name          string   `yaml:"name"`
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	SASLMechanism string   `yaml:"sasl_mechanism,omitempty"` // "", "plain", "scram-sha-256", "scram-sha-512"
	Username      string   `yaml:"username,omitempty"`
	Password      string   `yaml:"password,omitempty"`
	UseTLS        bool     `yaml:"use_tls,omitempty"`
	Enabled       bool     `yaml:"enabled"`
}

// DefaultPollRate is used when poll_rate is unset.
const DefaultPollRate = time.Second

// Load reads and validates a configuration file. Unknown keys fail the
// load.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PollRate == 0 {
		cfg.PollRate = DefaultPollRate
	}
	return &cfg, nil
}

// Validate checks cross-field constraints the YAML schema cannot.
func (c *Config) Validate() error {
	names := make(map[string]bool)
	for i := range c.PLCs {
		p := &c.PLCs[i]
		if p.Name == "" {
			return fmt.Errorf("config: plcs[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("config: duplicate plc name %q", p.Name)
		}
		names[p.Name] = true
		if p.Address == "" {
			return fmt.Errorf("config: plc %q: address is required", p.Name)
		}
		if !p.Family.Valid() {
			return fmt.Errorf("config: plc %q: unknown family %q", p.Name, p.Family)
		}
	}

	for i := range c.MQTT {
		if c.MQTT[i].Broker == "" {
			return fmt.Errorf("config: mqtt[%d]: broker is required", i)
		}
		if c.MQTT[i].QoS > 2 {
			return fmt.Errorf("config: mqtt[%d]: qos must be 0..2", i)
		}
	}
	for i := range c.Valkey {
		if c.Valkey[i].Address == "" {
			return fmt.Errorf("config: valkey[%d]: address is required", i)
		}
	}
	for i := range c.Kafka {
		if len(c.Kafka[i].Brokers) == 0 {
			return fmt.Errorf("config: kafka[%d]: brokers are required", i)
		}
		if c.Kafka[i].Topic == "" {
			return fmt.Errorf("config: kafka[%d]: topic is required", i)
		}
		switch c.Kafka[i].SASLMechanism {
		case "", "plain", "scram-sha-256", "scram-sha-512":
		default:
			return fmt.Errorf("config: kafka[%d]: unknown sasl_mechanism %q", i, c.Kafka[i].SASLMechanism)
		}
	}

	return nil
}

// Save writes the configuration back to disk.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return os.Rename(tmp, path)
}
