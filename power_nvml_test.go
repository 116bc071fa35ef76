//go:build linux && cgo

package main

import "testing"

// TestNVMLQuery reads the power limit of device 0. It changes nothing on the
// device.
func TestNVMLQuery(t *testing.T) {
	lib, err := NewNVMLManagement()
	if err != nil {
		t.Skipf("NVML not available: %v", err)
	}
	if err := lib.Init(); err != nil {
		t.Skipf("NVML not available: %v", err)
	}
	if err := lib.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	ctl := NewPowerController(lib, 0, DefaultPowerProfile())
	defer ctl.Close()
	mw, err := ctl.PowerLimit()
	if err != nil {
		t.Skipf("no NVML device 0: %v", err)
	}
	if mw == 0 {
		t.Error("expected a non-zero power limit")
	}
	t.Logf("device 0 power limit: %d mW", mw)
}
