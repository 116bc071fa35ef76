//go:build linux && cgo

package main

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// NVMLError carries an nvmlReturn_t that was not NVML_SUCCESS.
type NVMLError struct {
	Ret nvml.Return
}

func (e NVMLError) Error() string {
	return nvml.ErrorString(e.Ret)
}

func nvmlCheck(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return NVMLError{Ret: ret}
}

// NVMLManagement is the NVIDIA Management Library backend. NVML is loaded
// with dlopen on the first Init, so the binary runs on hosts without a
// driver as long as power management is not used.
type NVMLManagement struct{}

// NewNVMLManagement returns the NVML backend.
func NewNVMLManagement() (ManagementLib, error) {
	return NVMLManagement{}, nil
}

func (NVMLManagement) Init() error {
	return nvmlCheck(nvml.Init())
}

func (NVMLManagement) Shutdown() error {
	return nvmlCheck(nvml.Shutdown())
}

func (NVMLManagement) DeviceByIndex(index int) (ManagedDevice, error) {
	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if err := nvmlCheck(ret); err != nil {
		return nil, err
	}
	return nvmlDevice{dev: dev}, nil
}

type nvmlDevice struct {
	dev nvml.Device
}

func (d nvmlDevice) PowerLimit() (uint32, error) {
	mw, ret := d.dev.GetPowerManagementLimit()
	return mw, nvmlCheck(ret)
}

func (d nvmlDevice) SetPowerLimit(mw uint32) error {
	return nvmlCheck(d.dev.SetPowerManagementLimit(mw))
}

func (d nvmlDevice) SetApplicationClocks(memMHz, graphicsMHz uint32) error {
	return nvmlCheck(d.dev.SetApplicationsClocks(memMHz, graphicsMHz))
}

func (d nvmlDevice) ResetApplicationClocks() error {
	return nvmlCheck(d.dev.ResetApplicationsClocks())
}

func (d nvmlDevice) SetAutoBoost(enabled bool) error {
	state := nvml.FEATURE_DISABLED
	if enabled {
		state = nvml.FEATURE_ENABLED
	}
	return nvmlCheck(d.dev.SetAutoBoostedClocksEnabled(state))
}

// String is the product name reported by NVML.
func (d nvmlDevice) String() string {
	name, ret := d.dev.GetName()
	if ret != nvml.SUCCESS {
		return fmt.Sprintf("nvml device (%s)", nvml.ErrorString(ret))
	}
	return name
}
