package pci9118

import (
	"context"
	"fmt"
	"time"

	"github.com/usnistgov/pci9118/s5933"
)

// ReadAIOnce performs one software-triggered conversion on a single
// channel: program a one-entry scan queue, flush the FIFO, fire the
// soft trigger, and poll for the result. The context bounds the poll;
// a conversion normally completes within microseconds.
func (d *Session) ReadAIOnce(ctx context.Context, cs ChanSpec) (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mode != ModeNone {
		return 0, fmt.Errorf("analog input is busy with a streamed acquisition")
	}
	if err := d.checkChanlist([]ChanSpec{cs}, 0, 0); err != nil {
		return 0, err
	}
	if err := d.setupChanlist([]ChanSpec{cs}, 0, 0); err != nil {
		return 0, err
	}
	if err := d.hw.WriteAddOn(s5933.RegFIFOReset, 0); err != nil {
		return 0, err
	}
	if err := d.hw.WriteAddOn(s5933.RegSoftTrg, 0); err != nil {
		return 0, err
	}

	for {
		stat, err := d.hw.ReadAddOn(s5933.RegADStat)
		if err != nil {
			return 0, err
		}
		if stat&adStatusADrdy != 0 {
			break
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("conversion did not complete: %w", ctx.Err())
		case <-time.After(time.Microsecond):
		}
	}

	raw, err := d.hw.ReadAddOn(s5933.RegADData)
	if err != nil {
		return 0, err
	}
	sample := [1]uint16{uint16(raw)}
	d.mungeSamples(sample[:], false)
	return sample[0], nil
}

// WriteAO sets one analog output. The DA registers are write-only, so
// the written value is cached for ReadAO.
func (d *Session) WriteAO(channel int, value uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if channel < 0 || channel >= d.board.NAOChan {
		return fmt.Errorf("analog output channel %d out of range", channel)
	}
	if value > d.board.AOMaxdata {
		return fmt.Errorf("analog output value 0x%x exceeds resolution 0x%x",
			value, d.board.AOMaxdata)
	}
	reg := s5933.RegDA1
	if channel == 1 {
		reg = s5933.RegDA2
	}
	if err := d.hw.WriteAddOn(reg, uint32(value)); err != nil {
		return err
	}
	d.aoData[channel] = value
	return nil
}

// ReadAO returns the last value written to an analog output.
func (d *Session) ReadAO(channel int) (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if channel < 0 || channel >= d.board.NAOChan {
		return 0, fmt.Errorf("analog output channel %d out of range", channel)
	}
	return d.aoData[channel], nil
}

// ReadDI returns the four digital input lines as a bitmask.
func (d *Session) ReadDI() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, err := d.hw.ReadAddOn(s5933.RegDI)
	if err != nil {
		return 0, err
	}
	return v & 0x0f, nil
}

// WriteDO drives the four digital output lines and caches the state.
func (d *Session) WriteDO(state uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	state &= 0x0f
	if err := d.hw.WriteAddOn(s5933.RegDO, state); err != nil {
		return err
	}
	d.doState = state
	return nil
}

// ReadDO returns the last state written to the digital outputs.
func (d *Session) ReadDO() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doState
}
