package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The power/clock regime lives on the physical GPU, not in this process.
// PowerController moves a device between two regimes through a
// device-management library (NVML on real hardware, SimManagement in tests):
//
//   → Constrained: get handle, lower power limit, lock application clocks,
//                  disable auto boost
//   → Normal:      get handle, nominal power limit, reset application clocks,
//                  enable auto boost
//
// Steps run in order and the first failure aborts the transition. Nothing
// is rolled back: a transition that fails after changing the power limit
// leaves the device half way. That outcome is reported as a TransitionError
// matching ErrPartialTransition, and the controller's state becomes
// PowerUnknown until a later transition succeeds. Callers who care can
// re-query the device with PowerLimit.
//
// ===========================================================================

import (
	"errors"
	"fmt"
	"strings"
)

// PowerState is the regime the controller last put the device in.
type PowerState int

const (
	// PowerUnknown means no transition has completed, or the last one
	// failed part way.
	PowerUnknown PowerState = iota
	PowerNormal
	PowerConstrained
)

func (s PowerState) String() string {
	switch s {
	case PowerNormal:
		return "normal"
	case PowerConstrained:
		return "constrained"
	default:
		return "unknown"
	}
}

// ParsePowerState accepts "normal" and "constrained".
func ParsePowerState(s string) (PowerState, error) {
	switch strings.ToLower(s) {
	case "normal":
		return PowerNormal, nil
	case "constrained", "low":
		return PowerConstrained, nil
	default:
		return PowerUnknown, fmt.Errorf("unknown power state %q (want normal or constrained)", s)
	}
}

// PowerProfile holds the device settings of both regimes.
type PowerProfile struct {
	LowLimitMW       uint32
	NominalLimitMW   uint32
	MemClockMHz      uint32
	GraphicsClockMHz uint32
}

// DefaultPowerProfile returns the limits and clocks the benchmark was tuned
// for: 30 W constrained, 38.5 W nominal, clocks locked at 3510/1885 MHz.
func DefaultPowerProfile() PowerProfile {
	return PowerProfile{
		LowLimitMW:       30000,
		NominalLimitMW:   38500,
		MemClockMHz:      3510,
		GraphicsClockMHz: 1885,
	}
}

// Validate rejects a profile whose constrained limit is above the nominal one.
func (p PowerProfile) Validate() error {
	if p.LowLimitMW > p.NominalLimitMW {
		return fmt.Errorf("low power limit %d mW above nominal %d mW", p.LowLimitMW, p.NominalLimitMW)
	}
	return nil
}

// ManagementLib is a device-management library such as NVML.
type ManagementLib interface {
	// Init may be called more than once.
	Init() error
	Shutdown() error
	DeviceByIndex(index int) (ManagedDevice, error)
}

// ManagedDevice is a handle resolved by a ManagementLib.
type ManagedDevice interface {
	PowerLimit() (uint32, error)
	SetPowerLimit(milliwatts uint32) error
	SetApplicationClocks(memMHz, graphicsMHz uint32) error
	ResetApplicationClocks() error
	SetAutoBoost(enabled bool) error
}

// Operation names used in transition errors.
const (
	OpGetHandle        = "get handle"
	OpSetPowerLimit    = "set power limit"
	OpSetClocks        = "set clock"
	OpResetClocks      = "reset clock"
	OpDisableAutoBoost = "disable autoboost"
	OpEnableAutoBoost  = "enable autoboost"
	OpGetPowerLimit    = "get power limit"
)

var (
	// ErrManagementInit is returned when the management library fails to
	// initialize.
	ErrManagementInit = errors.New("device management init failed")

	// ErrPartialTransition matches a TransitionError raised after at least
	// one device setting had already been changed.
	ErrPartialTransition = errors.New("partial power transition")
)

// TransitionError reports the step that stopped a transition.
type TransitionError struct {
	Device int
	Target PowerState
	Op     string
	// Applied lists the device-changing steps that completed before Op
	// failed. They were not undone.
	Applied []string
	Err     error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("Failed to %s of device %d: %v", e.Op, e.Device, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// Is reports ErrPartialTransition for transitions that changed the device.
func (e *TransitionError) Is(target error) bool {
	return target == ErrPartialTransition && len(e.Applied) > 0
}

// Partial reports whether the device was left between regimes.
func (e *TransitionError) Partial() bool { return len(e.Applied) > 0 }

type transitionStep struct {
	op  string
	run func(ManagedDevice) error
}

// PowerController moves one device between regimes.
type PowerController struct {
	lib         ManagementLib
	device      int
	profile     PowerProfile
	state       PowerState
	initialized bool
}

// NewPowerController binds a controller to device index device of lib.
func NewPowerController(lib ManagementLib, device int, profile PowerProfile) *PowerController {
	return &PowerController{lib: lib, device: device, profile: profile}
}

// State returns the regime set by the last successful transition.
func (c *PowerController) State() PowerState { return c.state }

// Device returns the device index the controller manages.
func (c *PowerController) Device() int { return c.device }

// Profile returns the regime settings.
func (c *PowerController) Profile() PowerProfile { return c.profile }

func (c *PowerController) init() error {
	if c.initialized {
		return nil
	}
	if err := c.lib.Init(); err != nil {
		return fmt.Errorf("%w: %v", ErrManagementInit, err)
	}
	c.initialized = true
	return nil
}

func (c *PowerController) steps(target PowerState) []transitionStep {
	p := c.profile
	switch target {
	case PowerConstrained:
		return []transitionStep{
			{OpSetPowerLimit, func(d ManagedDevice) error { return d.SetPowerLimit(p.LowLimitMW) }},
			{OpSetClocks, func(d ManagedDevice) error { return d.SetApplicationClocks(p.MemClockMHz, p.GraphicsClockMHz) }},
			{OpDisableAutoBoost, func(d ManagedDevice) error { return d.SetAutoBoost(false) }},
		}
	case PowerNormal:
		return []transitionStep{
			{OpSetPowerLimit, func(d ManagedDevice) error { return d.SetPowerLimit(p.NominalLimitMW) }},
			{OpResetClocks, func(d ManagedDevice) error { return d.ResetApplicationClocks() }},
			{OpEnableAutoBoost, func(d ManagedDevice) error { return d.SetAutoBoost(true) }},
		}
	default:
		return nil
	}
}

// Transition moves the device to target. On failure the state is
// PowerUnknown and the error is a *TransitionError, except for an
// initialization failure which wraps ErrManagementInit.
func (c *PowerController) Transition(target PowerState) error {
	steps := c.steps(target)
	if steps == nil {
		return fmt.Errorf("power: cannot transition to %s", target)
	}

	if err := c.init(); err != nil {
		c.state = PowerUnknown
		return err
	}

	dev, err := c.lib.DeviceByIndex(c.device)
	if err != nil {
		c.state = PowerUnknown
		return &TransitionError{Device: c.device, Target: target, Op: OpGetHandle, Err: err}
	}

	var applied []string
	for _, step := range steps {
		if err := step.run(dev); err != nil {
			c.state = PowerUnknown
			return &TransitionError{Device: c.device, Target: target, Op: step.op, Applied: applied, Err: err}
		}
		applied = append(applied, step.op)
	}

	c.state = target
	return nil
}

// Constrain moves the device to the constrained regime.
func (c *PowerController) Constrain() error { return c.Transition(PowerConstrained) }

// Restore moves the device back to the normal regime.
func (c *PowerController) Restore() error { return c.Transition(PowerNormal) }

// PowerLimit reads the device's current power limit in milliwatts.
func (c *PowerController) PowerLimit() (uint32, error) {
	if err := c.init(); err != nil {
		return 0, err
	}
	dev, err := c.lib.DeviceByIndex(c.device)
	if err != nil {
		return 0, &TransitionError{Device: c.device, Op: OpGetHandle, Err: err}
	}
	mw, err := dev.PowerLimit()
	if err != nil {
		return 0, &TransitionError{Device: c.device, Op: OpGetPowerLimit, Err: err}
	}
	return mw, nil
}

// DeviceName names the managed device. Backends whose handles implement
// fmt.Stringer report a product name; others get the index.
func (c *PowerController) DeviceName() (string, error) {
	if err := c.init(); err != nil {
		return "", err
	}
	dev, err := c.lib.DeviceByIndex(c.device)
	if err != nil {
		return "", &TransitionError{Device: c.device, Op: OpGetHandle, Err: err}
	}
	if s, ok := dev.(fmt.Stringer); ok {
		return s.String(), nil
	}
	return fmt.Sprintf("device %d", c.device), nil
}

// Close shuts the management library down if the controller initialized it.
func (c *PowerController) Close() error {
	if !c.initialized {
		return nil
	}
	c.initialized = false
	return c.lib.Shutdown()
}
