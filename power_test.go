package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSimController(t *testing.T) (*PowerController, *SimManagement) {
	t.Helper()
	mgmt := NewSimManagement(2)
	ctl := NewPowerController(mgmt, 0, DefaultPowerProfile())
	t.Cleanup(func() { _ = ctl.Close() })
	return ctl, mgmt
}

func TestPowerConstrainApplies(t *testing.T) {
	ctl, mgmt := newSimController(t)
	assert.Equal(t, PowerUnknown, ctl.State())

	require.NoError(t, ctl.Constrain())
	assert.Equal(t, PowerConstrained, ctl.State())

	dev := mgmt.Device(0)
	assert.Equal(t, uint32(30000), dev.PowerLimitMW)
	assert.Equal(t, uint32(3510), dev.MemClockMHz)
	assert.Equal(t, uint32(1885), dev.GraphicsClockMHz)
	assert.False(t, dev.AutoBoost)
	assert.Equal(t, []string{OpGetHandle, OpSetPowerLimit, OpSetClocks, OpDisableAutoBoost}, dev.Calls)

	// The other device is untouched.
	assert.Empty(t, mgmt.Device(1).Calls)
}

func TestPowerRoundTripRestoresLimit(t *testing.T) {
	ctl, mgmt := newSimController(t)
	dev := mgmt.Device(0)
	before := dev.PowerLimitMW

	require.NoError(t, ctl.Constrain())
	require.NoError(t, ctl.Restore())

	assert.Equal(t, PowerNormal, ctl.State())
	assert.Equal(t, before, dev.PowerLimitMW)
	assert.Equal(t, dev.DefaultMemClockMHz, dev.MemClockMHz)
	assert.Equal(t, dev.DefaultGraphicsClockMHz, dev.GraphicsClockMHz)
	assert.True(t, dev.AutoBoost)
	assert.Equal(t, []string{
		OpGetHandle, OpSetPowerLimit, OpSetClocks, OpDisableAutoBoost,
		OpGetHandle, OpSetPowerLimit, OpResetClocks, OpEnableAutoBoost,
	}, dev.Calls)

	mw, err := ctl.PowerLimit()
	require.NoError(t, err)
	assert.Equal(t, before, mw)
}

func TestPowerTransitionsAreIdempotent(t *testing.T) {
	ctl, mgmt := newSimController(t)
	require.NoError(t, ctl.Restore())
	require.NoError(t, ctl.Restore())
	assert.Equal(t, PowerNormal, ctl.State())
	assert.Equal(t, uint32(38500), mgmt.Device(0).PowerLimitMW)
}

func TestPowerPartialFailure(t *testing.T) {
	ctl, mgmt := newSimController(t)
	dev := mgmt.Device(0)
	cause := errors.New("sim: insufficient permissions")
	dev.Fail[OpSetClocks] = cause

	err := ctl.Constrain()
	require.Error(t, err)
	assert.Equal(t, PowerUnknown, ctl.State())
	assert.ErrorIs(t, err, ErrPartialTransition)
	assert.ErrorIs(t, err, cause)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, OpSetClocks, te.Op)
	assert.Equal(t, PowerConstrained, te.Target)
	assert.Equal(t, []string{OpSetPowerLimit}, te.Applied)
	assert.True(t, te.Partial())
	assert.Equal(t, "Failed to set clock of device 0: sim: insufficient permissions", err.Error())

	// The power limit stays applied and auto boost was never reached.
	assert.Equal(t, uint32(30000), dev.PowerLimitMW)
	assert.True(t, dev.AutoBoost)
	assert.NotContains(t, dev.Calls, OpDisableAutoBoost)
}

func TestPowerHandleFailureIsNotPartial(t *testing.T) {
	ctl, mgmt := newSimController(t)
	mgmt.Device(0).Fail[OpGetHandle] = errors.New("sim: gpu is lost")

	err := ctl.Restore()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPartialTransition)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, OpGetHandle, te.Op)
	assert.Empty(t, te.Applied)
	assert.Equal(t, PowerUnknown, ctl.State())
}

func TestPowerFirstStepFailure(t *testing.T) {
	ctl, mgmt := newSimController(t)
	// Out of the simulated device's range.
	ctl.profile.LowLimitMW = 1000

	err := ctl.Constrain()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPartialTransition)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, OpSetPowerLimit, te.Op)
	assert.Equal(t, uint32(38500), mgmt.Device(0).PowerLimitMW)
}

func TestPowerInitFailure(t *testing.T) {
	ctl, mgmt := newSimController(t)
	mgmt.InitErr = errors.New("sim: driver not loaded")

	err := ctl.Constrain()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrManagementInit)
	assert.Equal(t, PowerUnknown, ctl.State())
	assert.False(t, mgmt.Initialized())

	_, err = ctl.PowerLimit()
	assert.ErrorIs(t, err, ErrManagementInit)
}

func TestPowerRecoversAfterFailure(t *testing.T) {
	ctl, mgmt := newSimController(t)
	dev := mgmt.Device(0)
	dev.Fail[OpSetClocks] = errors.New("sim: busy")
	require.Error(t, ctl.Constrain())

	delete(dev.Fail, OpSetClocks)
	require.NoError(t, ctl.Restore())
	assert.Equal(t, PowerNormal, ctl.State())
}

func TestPowerInitOnceAndClose(t *testing.T) {
	mgmt := NewSimManagement(1)
	ctl := NewPowerController(mgmt, 0, DefaultPowerProfile())

	require.NoError(t, ctl.Constrain())
	require.NoError(t, ctl.Restore())
	assert.Equal(t, 1, mgmt.InitCalls)
	assert.True(t, mgmt.Initialized())

	require.NoError(t, ctl.Close())
	assert.False(t, mgmt.Initialized())
	require.NoError(t, ctl.Close())
}

func TestPowerInvalidDevice(t *testing.T) {
	mgmt := NewSimManagement(1)
	ctl := NewPowerController(mgmt, 3, DefaultPowerProfile())
	defer ctl.Close()

	err := ctl.Constrain()
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.Device)
	assert.Equal(t, OpGetHandle, te.Op)
}

func TestPowerUnknownTarget(t *testing.T) {
	ctl, mgmt := newSimController(t)
	assert.Error(t, ctl.Transition(PowerUnknown))
	assert.Zero(t, mgmt.InitCalls)
}

func TestParsePowerState(t *testing.T) {
	for in, want := range map[string]PowerState{
		"normal":      PowerNormal,
		"NORMAL":      PowerNormal,
		"constrained": PowerConstrained,
		"low":         PowerConstrained,
	} {
		got, err := ParsePowerState(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParsePowerState("turbo")
	assert.Error(t, err)
}

func TestPowerProfileValidate(t *testing.T) {
	assert.NoError(t, DefaultPowerProfile().Validate())
	p := DefaultPowerProfile()
	p.LowLimitMW = p.NominalLimitMW + 1
	assert.Error(t, p.Validate())
}

func TestSimManagementDeviceBeforeInit(t *testing.T) {
	mgmt := NewSimManagement(1)

	dev := mgmt.Device(0)
	require.NotNil(t, dev)
	assert.Equal(t, uint32(38500), dev.PowerLimitMW)
	assert.False(t, mgmt.Initialized())

	// Resolving a handle still needs Init.
	_, err := mgmt.DeviceByIndex(0)
	assert.Error(t, err)
	assert.Empty(t, dev.Calls)
}

func TestPowerDeviceName(t *testing.T) {
	ctl, _ := newSimController(t)
	name, err := ctl.DeviceName()
	require.NoError(t, err)
	assert.Equal(t, "sim managed device 0", name)
	assert.Equal(t, 0, ctl.Device())
	assert.Equal(t, DefaultPowerProfile(), ctl.Profile())

	mgmt := NewSimManagement(1)
	mgmt.InitErr = errors.New("sim: driver not loaded")
	_, err = NewPowerController(mgmt, 0, DefaultPowerProfile()).DeviceName()
	assert.ErrorIs(t, err, ErrManagementInit)
}
