package driver

import (
	"errors"
	"testing"

	"ablink/cip"
	"ablink/config"
)

func TestCreate(t *testing.T) {
	d, err := Create(&config.PLCConfig{Name: "a", Address: "1.2.3.4"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if d.Family() != config.FamilyLogix || !d.SupportsDiscovery() {
		t.Errorf("default driver = %v", d.Family())
	}

	d, err = Create(&config.PLCConfig{Name: "b", Address: "1.2.3.4", Family: config.FamilySLC})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if d.Family() != config.FamilySLC || d.SupportsDiscovery() {
		t.Errorf("slc driver = %v", d.Family())
	}
	if _, err := d.DiscoverTags(); err == nil {
		t.Error("slc discovery did not error")
	}

	if _, err := Create(&config.PLCConfig{Name: "c", Address: "1.2.3.4", Family: "omron"}); err == nil {
		t.Error("expected error for unknown family")
	}
	if _, err := Create(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestLogixWriteRequiresTypeHint(t *testing.T) {
	d, err := Create(&config.PLCConfig{Name: "a", Address: "1.2.3.4"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = d.Write("Counts", int64(1), "")
	var dataErr *cip.DataError
	if !errors.As(err, &dataErr) {
		t.Errorf("error = %v, want *DataError", err)
	}
}

func TestAddressTypeName(t *testing.T) {
	if got := addressTypeName("N7:0"); got != "N" {
		t.Errorf("addressTypeName(N7:0) = %q", got)
	}
	if got := addressTypeName("bogus"); got != "" {
		t.Errorf("addressTypeName(bogus) = %q", got)
	}
}
