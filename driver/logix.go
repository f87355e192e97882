package driver

import (
	"ablink/cip"
	"ablink/config"
	"ablink/logix"
)

// logixAdapter adapts the symbolic tag client to the unified interface.
type logixAdapter struct {
	cfg *config.PLCConfig
	d   *logix.Driver
}

func newLogixAdapter(cfg *config.PLCConfig) *logixAdapter {
	return &logixAdapter{
		cfg: cfg,
		d: logix.NewDriver(logix.Config{
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

func (a *logixAdapter) Open(addr string) error { return a.d.Open(addr) }
func (a *logixAdapter) Close()                 { a.d.Close() }
func (a *logixAdapter) IsConnected() bool      { return a.d.IsConnected() }

func (a *logixAdapter) Family() config.PLCFamily { return config.FamilyLogix }

func (a *logixAdapter) SupportsDiscovery() bool { return true }

// DiscoverTags lists the scalar atomic tags; arrays and structures are
// polled only when named explicitly, since their read shape needs
// caller intent (element counts, member selection).
func (a *logixAdapter) DiscoverTags() ([]TagRequest, error) {
	tags, err := a.d.GetTagList()
	if err != nil {
		return nil, err
	}

	var out []TagRequest
	for _, t := range tags {
		if t.Struct || t.Dimensions > 0 {
			continue
		}
		out = append(out, TagRequest{Name: t.Name, TypeHint: t.DataTypeName})
	}
	return out, nil
}

func (a *logixAdapter) Read(requests []TagRequest) []TagValue {
	names := make([]string, len(requests))
	for i, r := range requests {
		names[i] = r.Name
	}

	values, err := a.d.ReadTags(names)
	if err != nil {
		out := make([]TagValue, len(requests))
		for i, r := range requests {
			out[i] = TagValue{Name: r.Name, Error: err}
		}
		return out
	}

	out := make([]TagValue, len(values))
	for i, v := range values {
		out[i] = TagValue{
			Name:     v.Name,
			Value:    v.GoValue(),
			TypeName: v.TypeName(),
			Error:    v.Error,
		}
	}
	return out
}

func (a *logixAdapter) Write(tag string, value interface{}, typeHint string) error {
	if typeHint == "" {
		return cip.DataErrorf("Write", "logix write requires a data type for %q", tag)
	}
	return a.d.WriteTag(tag, value, typeHint)
}

func (a *logixAdapter) Keepalive() error { return a.d.Nop() }

func (a *logixAdapter) Status() cip.Status { return a.d.Status() }
