package pci9118

import (
	"fmt"

	"github.com/usnistgov/pci9118/s5933"
)

// TrigConsumer identifies a subsystem that wants the external digital
// trigger interrupt. The card has one trigger pin shared by all of
// them, so enabling and disabling is reference counted: the interrupt
// stays enabled while any consumer holds it.
type TrigConsumer int

const (
	TrigAI TrigConsumer = iota
	TrigAO
	TrigDI
	TrigDO
	numTrigConsumers
)

func (c TrigConsumer) String() string {
	switch c {
	case TrigAI:
		return "AI"
	case TrigAO:
		return "AO"
	case TrigDI:
		return "DI"
	case TrigDO:
		return "DO"
	}
	return fmt.Sprintf("TrigConsumer(%d)", int(c))
}

// addExtTrigger registers a consumer of the external trigger and turns
// the trigger interrupt on, both on the card and in the bridge.
func (d *Session) addExtTrigger(c TrigConsumer) error {
	if c < 0 || c >= numTrigConsumers {
		return fmt.Errorf("unknown trigger consumer %d", int(c))
	}
	d.exttrgUsers |= 1 << uint(c)
	d.intControl |= intDTrg
	if err := d.hw.WriteAddOn(s5933.RegIntCtrl, d.intControl); err != nil {
		return err
	}
	intcsr, err := d.hw.ReadOp(s5933.OpRegINTCSR)
	if err != nil {
		return err
	}
	return d.hw.WriteOp(s5933.OpRegINTCSR, intcsr|s5933.IntAddOnEnable)
}

// delExtTrigger removes one consumer. The last one out disables the
// trigger interrupt; if that leaves no card interrupt enabled at all,
// the bridge routing is shut too.
func (d *Session) delExtTrigger(c TrigConsumer) error {
	if c < 0 || c >= numTrigConsumers {
		return fmt.Errorf("unknown trigger consumer %d", int(c))
	}
	d.exttrgUsers &^= 1 << uint(c)
	if d.exttrgUsers != 0 {
		return nil
	}
	d.intControl &^= intDTrg
	if d.intControl == 0 {
		intcsr, err := d.hw.ReadOp(s5933.OpRegINTCSR)
		if err != nil {
			return err
		}
		if err := d.hw.WriteOp(s5933.OpRegINTCSR, intcsr&^s5933.IntAddOnEnable); err != nil {
			return err
		}
	}
	return d.hw.WriteAddOn(s5933.RegIntCtrl, d.intControl)
}
