package main

import (
	"errors"
	"fmt"
	"sync"
)

// SimManagement is an in-memory device-management backend. It keeps the
// power and clock settings of each simulated device and can be told to fail
// individual operations.
type SimManagement struct {
	mu      sync.Mutex
	devices []*SimManagedDevice

	// InitErr, when set, is returned by every Init call.
	InitErr   error
	InitCalls int
	inits     int
}

// SimManagedDevice is the state of one simulated device.
type SimManagedDevice struct {
	mgmt  *SimManagement
	index int

	PowerLimitMW   uint32
	MinLimitMW     uint32
	MaxLimitMW     uint32
	DefaultLimitMW uint32

	MemClockMHz             uint32
	GraphicsClockMHz        uint32
	DefaultMemClockMHz      uint32
	DefaultGraphicsClockMHz uint32
	AutoBoost               bool

	// Fail maps an operation name (OpSetPowerLimit, ...) to the error that
	// operation returns.
	Fail map[string]error
	// Calls records every operation in the order it was attempted.
	Calls []string
}

// NewSimManagement returns a backend with n devices in their default state:
// 38.5 W limit within [15 W, 45 W], default clocks, auto boost on.
func NewSimManagement(n int) *SimManagement {
	m := &SimManagement{}
	for i := 0; i < n; i++ {
		m.devices = append(m.devices, &SimManagedDevice{
			mgmt:                    m,
			index:                   i,
			PowerLimitMW:            38500,
			MinLimitMW:              15000,
			MaxLimitMW:              45000,
			DefaultLimitMW:          38500,
			MemClockMHz:             5001,
			GraphicsClockMHz:        1590,
			DefaultMemClockMHz:      5001,
			DefaultGraphicsClockMHz: 1590,
			AutoBoost:               true,
			Fail:                    make(map[string]error),
		})
	}
	return m
}

// Init counts references the way NVML does.
func (m *SimManagement) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitCalls++
	if m.InitErr != nil {
		return m.InitErr
	}
	m.inits++
	return nil
}

// Shutdown releases one Init reference.
func (m *SimManagement) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inits == 0 {
		return errors.New("sim: uninitialized")
	}
	m.inits--
	return nil
}

// Initialized reports whether Init references are outstanding.
func (m *SimManagement) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inits > 0
}

// DeviceByIndex resolves a simulated device.
func (m *SimManagement) DeviceByIndex(index int) (ManagedDevice, error) {
	dev, err := m.device(index)
	if err != nil {
		return nil, err
	}
	if err := dev.call(OpGetHandle); err != nil {
		return nil, err
	}
	return dev, nil
}

// Device returns the state of device index for inspection. Unlike
// DeviceByIndex it works before Init.
func (m *SimManagement) Device(index int) *SimManagedDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[index]
}

func (m *SimManagement) device(index int) (*SimManagedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inits == 0 {
		return nil, errors.New("sim: uninitialized")
	}
	if index < 0 || index >= len(m.devices) {
		return nil, fmt.Errorf("sim: invalid argument: no device %d", index)
	}
	return m.devices[index], nil
}

func (d *SimManagedDevice) String() string {
	return fmt.Sprintf("sim managed device %d", d.index)
}

// call must not be entered with mgmt.mu held.
func (d *SimManagedDevice) call(op string) error {
	d.mgmt.mu.Lock()
	defer d.mgmt.mu.Unlock()
	d.Calls = append(d.Calls, op)
	return d.Fail[op]
}

func (d *SimManagedDevice) PowerLimit() (uint32, error) {
	if err := d.call(OpGetPowerLimit); err != nil {
		return 0, err
	}
	d.mgmt.mu.Lock()
	defer d.mgmt.mu.Unlock()
	return d.PowerLimitMW, nil
}

func (d *SimManagedDevice) SetPowerLimit(mw uint32) error {
	if err := d.call(OpSetPowerLimit); err != nil {
		return err
	}
	d.mgmt.mu.Lock()
	defer d.mgmt.mu.Unlock()
	if mw < d.MinLimitMW || mw > d.MaxLimitMW {
		return fmt.Errorf("sim: invalid argument: %d mW outside [%d, %d]", mw, d.MinLimitMW, d.MaxLimitMW)
	}
	d.PowerLimitMW = mw
	return nil
}

func (d *SimManagedDevice) SetApplicationClocks(memMHz, graphicsMHz uint32) error {
	if err := d.call(OpSetClocks); err != nil {
		return err
	}
	d.mgmt.mu.Lock()
	defer d.mgmt.mu.Unlock()
	d.MemClockMHz, d.GraphicsClockMHz = memMHz, graphicsMHz
	return nil
}

func (d *SimManagedDevice) ResetApplicationClocks() error {
	if err := d.call(OpResetClocks); err != nil {
		return err
	}
	d.mgmt.mu.Lock()
	defer d.mgmt.mu.Unlock()
	d.MemClockMHz, d.GraphicsClockMHz = d.DefaultMemClockMHz, d.DefaultGraphicsClockMHz
	return nil
}

func (d *SimManagedDevice) SetAutoBoost(enabled bool) error {
	op := OpDisableAutoBoost
	if enabled {
		op = OpEnableAutoBoost
	}
	if err := d.call(op); err != nil {
		return err
	}
	d.mgmt.mu.Lock()
	defer d.mgmt.mu.Unlock()
	d.AutoBoost = enabled
	return nil
}
