// Package poller owns one driver per configured PLC, reads the
// configured tag set on an interval, and fans values out to the
// configured publishers.
package poller

import (
	"sync"
	"time"

	"ablink/config"
	"ablink/driver"
	"ablink/kafka"
	"ablink/logging"
	"ablink/mqtt"
	"ablink/valkey"
)

// Sink is the publisher surface the poller fans out to.
type Sink interface {
	Name() string
	Start() error
	Stop()
	IsRunning() bool
	PublishTag(plc, tag string, value interface{}, typeName string) error
}

// HealthSink is implemented by sinks that also carry PLC health.
type HealthSink interface {
	PublishHealth(plc string, online bool, status string) error
}

// managedPLC is one target under poll.
type managedPLC struct {
	cfg    config.PLCConfig
	drv    driver.Driver
	tags   []driver.TagRequest
	online bool
}

// Manager runs the poll loops.
type Manager struct {
	cfg   *config.Config
	sinks []Sink
	plcs  []*managedPLC

	stop chan struct{}
	wg   sync.WaitGroup
	mu   sync.Mutex
}

// New builds a manager from configuration: one driver per enabled PLC
// and one sink per enabled broker.
func New(cfg *config.Config) (*Manager, error) {
	m := &Manager{cfg: cfg, stop: make(chan struct{})}

	for i := range cfg.PLCs {
		pc := cfg.PLCs[i]
		if !pc.Enabled {
			continue
		}
		drv, err := driver.Create(&pc)
		if err != nil {
			return nil, err
		}

		tags := make([]driver.TagRequest, 0, len(pc.Tags))
		for _, t := range pc.Tags {
			tags = append(tags, driver.TagRequest{Name: t})
		}
		m.plcs = append(m.plcs, &managedPLC{cfg: pc, drv: drv, tags: tags})
	}

	for i := range cfg.MQTT {
		if cfg.MQTT[i].Enabled {
			m.sinks = append(m.sinks, mqtt.NewPublisher(&cfg.MQTT[i]))
		}
	}
	for i := range cfg.Valkey {
		if cfg.Valkey[i].Enabled {
			m.sinks = append(m.sinks, valkey.NewPublisher(&cfg.Valkey[i]))
		}
	}
	for i := range cfg.Kafka {
		if cfg.Kafka[i].Enabled {
			m.sinks = append(m.sinks, kafka.NewProducer(&cfg.Kafka[i]))
		}
	}

	return m, nil
}

// Start brings the sinks up and launches one poll loop per PLC. Sink
// failures are logged, not fatal: a broker can come up later.
func (m *Manager) Start() {
	for _, sink := range m.sinks {
		if err := sink.Start(); err != nil {
			logging.DebugLog("poller", "sink %s start: %v", sink.Name(), err)
		}
	}

	for _, plc := range m.plcs {
		m.wg.Add(1)
		go m.pollLoop(plc)
	}
}

// Stop halts the loops, closes the drivers, and stops the sinks.
func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()

	for _, plc := range m.plcs {
		plc.drv.Close()
	}
	for _, sink := range m.sinks {
		sink.Stop()
	}
}

func (m *Manager) pollLoop(plc *managedPLC) {
	defer m.wg.Done()

	interval := m.cfg.PollRate
	if interval <= 0 {
		interval = config.DefaultPollRate
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.pollOnce(plc)
		}
	}
}

func (m *Manager) pollOnce(plc *managedPLC) {
	if !plc.drv.IsConnected() {
		if err := plc.drv.Open(plc.cfg.Address); err != nil {
			m.setOnline(plc, false, err.Error())
			return
		}
		m.setOnline(plc, true, "connected")

		if len(plc.tags) == 0 && plc.cfg.Discover() && plc.drv.SupportsDiscovery() {
			tags, err := plc.drv.DiscoverTags()
			if err != nil {
				logging.DebugLog("poller", "%s: discover: %v", plc.cfg.Name, err)
			} else {
				plc.tags = tags
				logging.DebugLog("poller", "%s: discovered %d tags", plc.cfg.Name, len(tags))
			}
		}
	}

	if len(plc.tags) == 0 {
		return
	}

	values := plc.drv.Read(plc.tags)
	for _, v := range values {
		if v.Error != nil {
			logging.DebugLog("poller", "%s: read %s: %v", plc.cfg.Name, v.Name, v.Error)
			continue
		}
		m.publish(plc.cfg.Name, v)
	}

	if !plc.drv.IsConnected() {
		// The read burned the connection; report and retry next tick.
		m.setOnline(plc, false, plc.drv.Status().Text)
	}
}

func (m *Manager) publish(plcName string, v driver.TagValue) {
	for _, sink := range m.sinks {
		if !sink.IsRunning() {
			continue
		}
		if err := sink.PublishTag(plcName, v.Name, v.Value, v.TypeName); err != nil {
			logging.DebugLog("poller", "sink %s: %s/%s: %v", sink.Name(), plcName, v.Name, err)
		}
	}
}

func (m *Manager) setOnline(plc *managedPLC, online bool, status string) {
	m.mu.Lock()
	changed := plc.online != online
	plc.online = online
	m.mu.Unlock()

	if changed {
		logging.DebugLog("poller", "%s: online=%v (%s)", plc.cfg.Name, online, status)
	}

	for _, sink := range m.sinks {
		hs, ok := sink.(HealthSink)
		if !ok || !sink.IsRunning() {
			continue
		}
		if err := hs.PublishHealth(plc.cfg.Name, online, status); err != nil {
			logging.DebugLog("poller", "sink %s: health %s: %v", sink.Name(), plc.cfg.Name, err)
		}
	}
}
