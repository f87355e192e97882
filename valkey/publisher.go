// Package valkey publishes tag values and PLC health to a
// Valkey/Redis server.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ablink/config"
	"ablink/logging"
)

// joinKey joins key segments with colons, trimming stray colons from
// each segment so keys never contain empty parts.
func joinKey(segments ...string) string {
	var parts []string
	for _, s := range segments {
		s = strings.Trim(s, ":")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ":")
}

// TagMessage is the JSON value stored per tag key.
type TagMessage struct {
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// HealthMessage is the JSON value stored per PLC health key.
type HealthMessage struct {
	PLC       string    `json:"plc"`
	Online    bool      `json:"online"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher maintains one Valkey connection and stores tag and health
// keys. Values are also published on the matching channel so readers
// can subscribe instead of polling.
type Publisher struct {
	cfg     *config.ValkeyConfig
	client  *redis.Client
	running bool
	mu      sync.RWMutex
}

// NewPublisher creates a publisher for one server.
func NewPublisher(cfg *config.ValkeyConfig) *Publisher {
	return &Publisher{cfg: cfg}
}

// Name returns the publisher's configured name.
func (p *Publisher) Name() string { return p.cfg.Name }

// IsRunning reports whether the server connection is up.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Start connects and pings the server.
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	opts := &redis.Options{
		Addr:         p.cfg.Address,
		Password:     p.cfg.Password,
		DB:           p.cfg.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if p.cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("valkey %s: ping %s: %w", p.cfg.Name, p.cfg.Address, err)
	}

	p.client = client
	p.running = true
	logging.DebugLog("valkey", "%s: connected to %s", p.cfg.Name, p.cfg.Address)
	return nil
}

// Stop closes the connection.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	_ = p.client.Close()
	p.client = nil
	p.running = false
}

func (p *Publisher) prefix() string {
	if p.cfg.KeyPrefix != "" {
		return p.cfg.KeyPrefix
	}
	return "ablink"
}

// PublishTag stores the tag value at <prefix>:tags:<plc>:<tag> and
// publishes it on the channel of the same name.
func (p *Publisher) PublishTag(plc, tag string, value interface{}, typeName string) error {
	p.mu.RLock()
	client := p.client
	running := p.running
	p.mu.RUnlock()

	if !running || client == nil {
		return fmt.Errorf("valkey %s: not connected", p.cfg.Name)
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
		return fmt.Errorf("valkey %s: marshal %s/%s: %w", p.cfg.Name, plc, tag, err)
	}

	key := joinKey(p.prefix(), "tags", plc, tag)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pipe := client.Pipeline()
	pipe.Set(ctx, key, payload, p.cfg.TTL)
	pipe.Publish(ctx, key, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("valkey %s: set %s: %w", p.cfg.Name, key, err)
	}
	return nil
}

// PublishHealth stores a PLC health record at <prefix>:health:<plc>.
func (p *Publisher) PublishHealth(plc string, online bool, status string) error {
	p.mu.RLock()
	client := p.client
	running := p.running
	p.mu.RUnlock()

	if !running || client == nil {
		return fmt.Errorf("valkey %s: not connected", p.cfg.Name)
	}

	msg := HealthMessage{
		PLC:       plc,
		Online:    online,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("valkey %s: marshal health %s: %w", p.cfg.Name, plc, err)
	}

	key := joinKey(p.prefix(), "health", plc)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Set(ctx, key, payload, p.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("valkey %s: set %s: %w", p.cfg.Name, key, err)
	}
	return nil
}
