// Package driver provides a family-neutral interface over the two
// Allen-Bradley protocol clients, so the poller treats ControlLogix and
// SLC-500 targets uniformly.
package driver

import (
	"fmt"

	"ablink/cip"
	"ablink/config"
)

// TagValue is one read result in family-neutral form.
type TagValue struct {
	Name     string
	Value    interface{} // decoded Go value (nil on error)
	TypeName string      // family-specific type name
	Error    error       // per-tag error
}

// TagRequest is one read request. TypeHint carries the data type for
// writes on families that need it (Logix).
type TagRequest struct {
	Name     string
	TypeHint string
}

// Driver is the unified interface both family adapters implement.
type Driver interface {
	Open(addr string) error
	Close()
	IsConnected() bool
	Family() config.PLCFamily

	// SupportsDiscovery reports whether DiscoverTags can enumerate the
	// target's tags.
	SupportsDiscovery() bool
	DiscoverTags() ([]TagRequest, error)

	Read(requests []TagRequest) []TagValue
	Write(tag string, value interface{}, typeHint string) error

	Keepalive() error
	Status() cip.Status
}

// Create builds the adapter for a PLC configuration. The connection is
// not established until Open.
func Create(cfg *config.PLCConfig) (Driver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("driver: nil config")
	}

	switch cfg.Family {
	case config.FamilySLC:
		return newSLCAdapter(cfg), nil
	case config.FamilyLogix, "":
		return newLogixAdapter(cfg), nil
	default:
		return nil, fmt.Errorf("driver: unknown family %q", cfg.Family)
	}
}
