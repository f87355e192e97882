package driver

import (
	"ablink/cip"
	"ablink/config"
	"ablink/pccc"
)

// slcAdapter adapts the PCCC client to the unified interface.
type slcAdapter struct {
	cfg *config.PLCConfig
	d   *pccc.Driver
}

func newSLCAdapter(cfg *config.PLCConfig) *slcAdapter {
	return &slcAdapter{
		cfg: cfg,
		d: pccc.NewDriver(pccc.Config{
			Port:             cfg.Port,
			Timeout:          cfg.Timeout,
			RPIMicros:        cfg.RPIMicros,
			Backplane:        cfg.Backplane,
			CPUSlot:          cfg.CPUSlot,
			VendorID:         cfg.VendorID,
			VendorSerial:     cfg.VendorSerial,
			OriginatorSerial: cfg.OriginatorSerial,
		}),
	}
}

func (a *slcAdapter) Open(addr string) error { return a.d.Open(addr) }
func (a *slcAdapter) Close()                 { a.d.Close() }
func (a *slcAdapter) IsConnected() bool      { return a.d.IsConnected() }

func (a *slcAdapter) Family() config.PLCFamily { return config.FamilySLC }

// SLC data tables have no symbol object; addresses come from config.
func (a *slcAdapter) SupportsDiscovery() bool { return false }

func (a *slcAdapter) DiscoverTags() ([]TagRequest, error) {
	return nil, cip.DataErrorf("DiscoverTags", "PCCC targets do not support tag discovery")
}

func (a *slcAdapter) Read(requests []TagRequest) []TagValue {
	out := make([]TagValue, len(requests))
	for i, r := range requests {
		value, err := a.d.ReadTag(r.Name, 1)
		out[i] = TagValue{Name: r.Name, Value: value, TypeName: addressTypeName(r.Name), Error: err}
	}
	return out
}

func (a *slcAdapter) Write(tag string, value interface{}, _ string) error {
	return a.d.WriteTag(tag, value)
}

// Keepalive on PCCC targets reads status file word S:1.
func (a *slcAdapter) Keepalive() error {
	_, err := a.d.ReadTag("S:1", 1)
	return err
}

func (a *slcAdapter) Status() cip.Status { return a.d.Status() }

// addressTypeName derives a display type from the file-type letter.
func addressTypeName(addr string) string {
	fa, err := pccc.ParseAddress(addr)
	if err != nil {
		return ""
	}
	return fa.FileType
}
