package main

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Regime selects which power phases the driver runs.
type Regime string

const (
	// RegimeNone leaves the device in whatever state it is in.
	RegimeNone Regime = "none"
	// RegimeNormal runs everything under the normal regime.
	RegimeNormal Regime = "normal"
	// RegimeConstrained runs everything under the constrained regime.
	RegimeConstrained Regime = "constrained"
	// RegimeSweep computes the baseline under normal, runs the trials under
	// constrained and restores normal afterwards.
	RegimeSweep Regime = "sweep"
)

// BaselineMode selects the ground truth for the trials.
type BaselineMode string

const (
	// BaselineDevice uses the first accelerated result as the baseline.
	BaselineDevice BaselineMode = "device"
	// BaselineCPU uses MatMulReference as the baseline.
	BaselineCPU BaselineMode = "cpu"
)

// BenchConfig holds the options of one benchmark run.
type BenchConfig struct {
	Size        uint
	Trials      int
	Seed        int64
	Tolerance   float64
	ListTol     float64
	ListLength  int
	Device      string
	DeviceIndex int
	Regime      Regime
	Baseline    BaselineMode
	Power       PowerProfile
	Restore     bool
	PinHost     bool
	Chart       bool
	MetricsAddr string
	Quiet       bool
}

// Defaults of the standard run.
const (
	defaultSize       = 10240
	defaultSimSize    = 256
	defaultTrials     = 100
	defaultSeed       = 2006
	defaultTolerance  = 1.0e-10
	defaultListTol    = 1.0e-5
	defaultListLength = 100

	// defaultCPUTolerance applies to -baseline=cpu when -tol is not given.
	defaultCPUTolerance = 1.0e-5
)

// DefaultBenchConfig returns the standard run:
// 10240 x 10240, 100 trials, seed 2006, no power phases, device baseline.
func DefaultBenchConfig() BenchConfig {
	return BenchConfig{
		Size:       defaultSize,
		Trials:     defaultTrials,
		Seed:       defaultSeed,
		Tolerance:  defaultTolerance,
		ListTol:    defaultListTol,
		ListLength: defaultListLength,
		Device:     "auto",
		Regime:     RegimeNone,
		Baseline:   BaselineDevice,
		Power:      DefaultPowerProfile(),
	}
}

// Validate rejects unusable settings.
func (c BenchConfig) Validate() error {
	var errs []error
	if c.Size == 0 {
		errs = append(errs, errors.New("size must be positive"))
	}
	if c.Trials <= 0 {
		errs = append(errs, errors.New("trials must be positive"))
	}
	if c.Tolerance < 0 || c.ListTol < 0 {
		errs = append(errs, errors.New("tolerances must not be negative"))
	}
	if math.IsNaN(c.Tolerance) || math.IsNaN(c.ListTol) {
		errs = append(errs, errors.New("tolerances must be numbers"))
	}
	if c.ListLength < 0 {
		errs = append(errs, errors.New("list length must not be negative"))
	}
	if c.DeviceIndex < 0 {
		errs = append(errs, errors.New("device index must not be negative"))
	}
	switch strings.ToLower(c.Device) {
	case "auto", "cuda", "sim":
	default:
		errs = append(errs, fmt.Errorf("unknown device %q", c.Device))
	}
	switch c.Regime {
	case RegimeNone, RegimeNormal, RegimeConstrained, RegimeSweep:
	default:
		errs = append(errs, fmt.Errorf("unknown regime %q", c.Regime))
	}
	switch c.Baseline {
	case BaselineDevice, BaselineCPU:
	default:
		errs = append(errs, fmt.Errorf("unknown baseline %q", c.Baseline))
	}
	if err := c.Power.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// UsesPower reports whether the run needs a power controller.
func (c BenchConfig) UsesPower() bool {
	return c.Regime != RegimeNone || c.Restore
}
