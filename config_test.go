package main

import (
	"bytes"
	"flag"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultBenchConfig(t *testing.T) {
	cfg := DefaultBenchConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint(10240), cfg.Size)
	assert.Equal(t, 100, cfg.Trials)
	assert.Equal(t, int64(2006), cfg.Seed)
	assert.Equal(t, 1e-10, cfg.Tolerance)
	assert.Equal(t, 100, cfg.ListLength)
	assert.Equal(t, RegimeNone, cfg.Regime)
	assert.Equal(t, BaselineDevice, cfg.Baseline)
	assert.False(t, cfg.UsesPower())
}

func TestBenchConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*BenchConfig)
	}{
		{"zero size", func(c *BenchConfig) { c.Size = 0 }},
		{"no trials", func(c *BenchConfig) { c.Trials = 0 }},
		{"negative tolerance", func(c *BenchConfig) { c.Tolerance = -1 }},
		{"negative list", func(c *BenchConfig) { c.ListLength = -1 }},
		{"negative index", func(c *BenchConfig) { c.DeviceIndex = -1 }},
		{"device", func(c *BenchConfig) { c.Device = "opencl" }},
		{"regime", func(c *BenchConfig) { c.Regime = "turbo" }},
		{"baseline", func(c *BenchConfig) { c.Baseline = "gpu" }},
		{"power profile", func(c *BenchConfig) { c.Power.LowLimitMW = 50000 }},
		{"NaN tolerance", func(c *BenchConfig) { c.Tolerance = math.NaN() }},
		{"NaN list tolerance", func(c *BenchConfig) { c.ListTol = math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultBenchConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestUsesPower(t *testing.T) {
	cfg := DefaultBenchConfig()
	cfg.Restore = true
	assert.True(t, cfg.UsesPower())

	cfg = DefaultBenchConfig()
	cfg.Regime = RegimeSweep
	assert.True(t, cfg.UsesPower())
}

func TestParseBenchFlags(t *testing.T) {
	bf, err := parseBenchFlags([]string{
		"-n=64", "-trials=3", "-seed=9", "-tol=1e-6", "-list=5",
		"-device=sim", "-regime=SWEEP", "-baseline=cpu",
		"-low-power-mw=25000", "-gfx-clock=1500", "-mgmt=sim", "-device-index=1",
		"-restore", "-chart", "-quiet",
	}, &bytes.Buffer{})
	require.NoError(t, err)

	cfg := bf.cfg
	assert.True(t, bf.sizeSet)
	assert.Equal(t, "sim", bf.mgmt)
	assert.Equal(t, uint(64), cfg.Size)
	assert.Equal(t, 3, cfg.Trials)
	assert.Equal(t, int64(9), cfg.Seed)
	assert.Equal(t, 1e-6, cfg.Tolerance)
	assert.Equal(t, 5, cfg.ListLength)
	assert.Equal(t, RegimeSweep, cfg.Regime)
	assert.Equal(t, BaselineCPU, cfg.Baseline)
	assert.Equal(t, uint32(25000), cfg.Power.LowLimitMW)
	assert.Equal(t, uint32(38500), cfg.Power.NominalLimitMW)
	assert.Equal(t, uint32(1500), cfg.Power.GraphicsClockMHz)
	assert.Equal(t, 1, cfg.DeviceIndex)
	assert.True(t, cfg.Restore)
	assert.True(t, cfg.Chart)
	assert.True(t, cfg.Quiet)
}

func TestParseBenchFlagsDefaults(t *testing.T) {
	bf, err := parseBenchFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.False(t, bf.sizeSet)
	assert.Equal(t, DefaultBenchConfig(), bf.cfg)
	assert.Equal(t, "auto", bf.mgmt)
}

func TestParseBenchFlagsErrors(t *testing.T) {
	for _, args := range [][]string{
		{"-regime=turbo"},
		{"-trials=0"},
		{"-low-power-mw=abc"},
		{"-low-power-mw=30000abc"},
		{"-mem-clock=-1"},
		{"-gfx-clock=5000000000"},
		{"-tol=NaN"},
		{"extra"},
		{"-nonexistent"},
	} {
		_, err := parseBenchFlags(args, &bytes.Buffer{})
		assert.Error(t, err, args)
	}

	_, err := parseBenchFlags([]string{"-h"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestRunBenchmarkSim(t *testing.T) {
	bf, err := parseBenchFlags([]string{"-device=sim", "-n=16", "-trials=2", "-regime=sweep"}, &bytes.Buffer{})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runBenchmark(bf, &out))
	assert.Contains(t, out.String(), "[Matrix Multiply SGEMM] - Starting...")
	assert.Contains(t, out.String(), "16x16, 2 trials")
	assert.Contains(t, out.String(), "(constrained power)")
	assert.Contains(t, out.String(), "total test: 2, failed: 0.")
}

func TestRunBenchmarkSimDefaultSize(t *testing.T) {
	bf, err := parseBenchFlags([]string{"-device=sim", "-trials=1", "-quiet"}, &bytes.Buffer{})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runBenchmark(bf, &out))
	assert.Contains(t, out.String(), "256x256, 1 trials")
}

func TestRunPowerSim(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runPower([]string{"-mgmt=sim", "-set=constrained", "-query"}, &out, &bytes.Buffer{}))
	assert.Equal(t, "Device 0 set to constrained power\nDevice 0 power limit: 30000 mW (30.0 W)\n", out.String())

	assert.Error(t, runPower([]string{"-mgmt=sim"}, &out, &bytes.Buffer{}))
	assert.Error(t, runPower([]string{"-mgmt=sim", "-set=turbo"}, &out, &bytes.Buffer{}))
	assert.Error(t, runPower([]string{"-mgmt=sim", "-set=normal", "-device-index=4"}, &out, &bytes.Buffer{}))
	assert.Error(t, runPower([]string{"-mgmt=gpib", "-query"}, &out, &bytes.Buffer{}))
}

func TestRunDetectSim(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runDetect(&out, "sim", "sim", 0))
	assert.Contains(t, out.String(), "=== Hardware Detection ===")
	assert.Contains(t, out.String(), "Accelerator:      sim")
	assert.Contains(t, out.String(), "Power control:    sim managed device 0")
	assert.Contains(t, out.String(), "Power limit:      38500 mW")
	assert.Contains(t, out.String(), "Regimes:          normal 38500 mW, constrained 30000 mW at 3510/1885 MHz")
}

func TestParseBenchFlagsCPUBaselineTolerance(t *testing.T) {
	bf, err := parseBenchFlags([]string{"-baseline=cpu"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, defaultCPUTolerance, bf.cfg.Tolerance)

	bf, err = parseBenchFlags([]string{"-baseline=cpu", "-tol=1e-10"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 1e-10, bf.cfg.Tolerance, "an explicit -tol wins")

	bf, err = parseBenchFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, defaultTolerance, bf.cfg.Tolerance)
}

func TestRunCPUBaselineDefaults(t *testing.T) {
	bf, err := parseBenchFlags([]string{"-device=sim", "-baseline=cpu", "-n=64", "-trials=5"}, &bytes.Buffer{})
	require.NoError(t, err)

	acc := NewSimAccelerator()
	defer acc.Close()
	res, err := NewDriver(bf.cfg, acc, nil, NewReporter(&bytes.Buffer{}, true), nil).Run()
	require.NoError(t, err)
	assert.Nil(t, res.BaselineMismatch)
	assert.Zero(t, res.Stats.Failures)
	assert.Equal(t, 5, res.Stats.Iterations)
}

func TestUint32Setter(t *testing.T) {
	var v uint32
	set := uint32Setter(&v)
	require.NoError(t, set("4294967295"))
	assert.Equal(t, uint32(4294967295), v)
	assert.Error(t, set("4294967296"))
	assert.Error(t, set("12 "))
	assert.Equal(t, uint32(4294967295), v, "failed parses leave the value")
}
