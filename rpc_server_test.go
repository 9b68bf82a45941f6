package pci9118

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/pci9118/s5933"
)

func TestControlStatus(t *testing.T) {
	nh := s5933.NewNoHardware()
	d, err := Attach(nh, AttachOptions{Board: "pci9118dg"})
	require.NoError(t, err)
	defer d.Detach()
	ac := &AcquisitionControl{session: d}

	dummy := ""
	var status ServerStatus
	require.NoError(t, ac.Status(&dummy, &status))
	assert.False(t, status.Running)
	assert.Equal(t, "pci9118dg", status.Board)
	assert.Empty(t, status.RunID)

	cmd := AcqCommand{
		StartSrc:     TrigNow,
		ScanBeginSrc: TrigFollow,
		ConvertSrc:   TrigTimer,
		ConvertArg:   3000,
		ScanEndArg:   2,
		StopSrc:      TrigNone,
		Chanlist:     list(0, 1),
	}
	var corrected AcqCommand
	require.NoError(t, ac.Start(&cmd, &corrected))
	assert.Equal(t, uint32(3000), corrected.ConvertArg)

	require.NoError(t, ac.Status(&dummy, &status))
	assert.True(t, status.Running)
	assert.Equal(t, "convert-timer", status.Mode)
	assert.NotEmpty(t, status.RunID)

	var ok bool
	require.NoError(t, ac.Stop(&dummy, &ok))
	assert.True(t, ok)
	require.NoError(t, ac.Status(&dummy, &status))
	assert.False(t, status.Running)
}

func TestControlStartCorrectsArguments(t *testing.T) {
	nh := s5933.NewNoHardware()
	d, err := Attach(nh, AttachOptions{Board: "pci9118dg"})
	require.NoError(t, err)
	defer d.Detach()
	ac := &AcquisitionControl{session: d}

	// A convert period below the hardware minimum comes back clamped.
	cmd := AcqCommand{
		StartSrc:     TrigNow,
		ScanBeginSrc: TrigFollow,
		ConvertSrc:   TrigTimer,
		ConvertArg:   100,
		ScanEndArg:   2,
		StopSrc:      TrigNone,
		Chanlist:     list(0, 1),
	}
	var corrected AcqCommand
	err = ac.Start(&cmd, &corrected)
	require.Error(t, err)
	assert.Equal(t, uint32(3000), cmd.ConvertArg)
}

func TestControlSubdevices(t *testing.T) {
	nh := s5933.NewNoHardware()
	d, err := Attach(nh, AttachOptions{Board: "pci9118dg"})
	require.NoError(t, err)
	defer d.Detach()
	ac := &AcquisitionControl{session: d}

	var ok bool
	require.NoError(t, ac.WriteAO(&AOValue{Channel: 0, Value: 0x200}, &ok))
	assert.True(t, ok)
	err = ac.WriteAO(&AOValue{Channel: 5, Value: 0}, &ok)
	assert.Error(t, err)
	assert.False(t, ok)

	nh.SetAddOnReg(s5933.RegDI, 0x3)
	dummy := ""
	var di uint32
	require.NoError(t, ac.ReadDI(&dummy, &di))
	assert.Equal(t, uint32(0x3), di)

	state := uint32(0x9)
	require.NoError(t, ac.WriteDO(&state, &ok))
	assert.True(t, ok)
	assert.Equal(t, uint32(0x9), d.ReadDO())

	nh.SetAddOnReg(s5933.RegADStat, adStatusADrdy)
	nh.PushSamples(0x0042<<4 | 2)
	var sample uint16
	require.NoError(t, ac.ReadAI(&ChanSpec{Chan: 2}, &sample))
	assert.Equal(t, uint16(0x42), sample)
}

func TestControlTrigger(t *testing.T) {
	nh := s5933.NewNoHardware()
	d, err := Attach(nh, AttachOptions{Board: "pci9118dg"})
	require.NoError(t, err)
	defer d.Detach()
	ac := &AcquisitionControl{session: d}

	var ok bool
	trig := uint32(1)
	assert.Error(t, ac.Trigger(&trig, &ok), "no deferred start is armed")

	cmd := AcqCommand{
		StartSrc:     TrigInt,
		StartArg:     1,
		ScanBeginSrc: TrigFollow,
		ConvertSrc:   TrigTimer,
		ConvertArg:   3000,
		ScanEndArg:   2,
		StopSrc:      TrigNone,
		Chanlist:     list(0, 1),
	}
	var corrected AcqCommand
	require.NoError(t, ac.Start(&cmd, &corrected))
	require.NoError(t, ac.Trigger(&trig, &ok))
	assert.True(t, ok)
}
