// Package s5933 provides register-level access to an ADLink PCI-9118
// card behind its AMCC S5933 PCI controller. The S5933 exposes two I/O
// windows: its own operation registers (BAR 0) and a pass-through to
// the card's add-on bus (BAR 2), where the A/D control, status, gain
// and counter registers live. Exports the Registers interface for
// general use; the concrete Device works on the sysfs PCI resource
// files, and NoHardware is a software model for tests.
package s5933

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// Registers is the contract the acquisition core programs against: two
// 32-bit register windows plus the shared interrupt line. Writes take
// effect immediately; reads have side effects where the hardware
// defines them (status latches, FIFO pops).
type Registers interface {
	// ReadOp and WriteOp access the S5933 operation registers.
	ReadOp(offset int64) (uint32, error)
	WriteOp(offset int64, value uint32) error
	// ReadAddOn and WriteAddOn access the card window behind the bridge.
	ReadAddOn(offset int64) (uint32, error)
	WriteAddOn(offset int64, value uint32) error
	// WaitInterrupt blocks until the shared interrupt line fires or the
	// timeout elapses. A timeout is reported as os.ErrDeadlineExceeded.
	WaitInterrupt(timeout time.Duration) error
	Close() error
}

// Device is the interface to one physical card, using the kernel's
// sysfs PCI resource files for the two register windows and a UIO
// device for interrupt events (a blocking 4-byte read, one event per
// interrupt, in the manner of uio_pci_generic).
type Device struct {
	fileOp    *os.File // BAR 0: S5933 operation registers
	fileAddOn *os.File // BAR 2: card add-on registers
	fileIRQ   *os.File // /dev/uioN: interrupt event counter
	slot      string   // PCI slot name, e.g. 0000:03:0a.0
	irqEnable [4]byte  // scratch for the UIO irq-enable write
}

// Open maps the register windows of the card in the given PCI slot.
// The slot is the bus address under /sys/bus/pci/devices; uioNum picks
// the UIO device bound to the card's interrupt.
func Open(slot string, uioNum int) (*Device, error) {
	dev := &Device{slot: slot}
	sysdir := fmt.Sprintf("/sys/bus/pci/devices/%s", slot)
	var err error
	if dev.fileOp, err = os.OpenFile(sysdir+"/resource0", os.O_RDWR, 0666); err != nil {
		return nil, err
	}
	if dev.fileAddOn, err = os.OpenFile(sysdir+"/resource2", os.O_RDWR, 0666); err != nil {
		dev.Close()
		return nil, err
	}
	if dev.fileIRQ, err = os.OpenFile(fmt.Sprintf("/dev/uio%d", uioNum), os.O_RDWR, 0666); err != nil {
		dev.Close()
		return nil, err
	}
	binary.LittleEndian.PutUint32(dev.irqEnable[:], 1)
	return dev, nil
}

func (dev *Device) String() string {
	return fmt.Sprintf("pci9118 at slot %s", dev.slot)
}

// Close releases all open register windows.
func (dev *Device) Close() error {
	files := [...]*os.File{dev.fileOp, dev.fileAddOn, dev.fileIRQ}
	var err error
	for _, file := range files {
		if file != nil {
			if cerr := file.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}
	return err
}

func preadUint32(file *os.File, offset int64) (uint32, error) {
	var buf [4]byte
	n, err := file.ReadAt(buf[:], offset)
	if n < 4 || err != nil {
		return 0, fmt.Errorf("could not read %s offset 0x%x", file.Name(), offset)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func pwriteUint32(file *os.File, offset int64, value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	n, err := file.WriteAt(buf[:], offset)
	if n < 4 || err != nil {
		return fmt.Errorf("could not write %s offset 0x%x value 0x%x", file.Name(), offset, value)
	}
	return nil
}

// ReadOp reads an S5933 operation register.
func (dev *Device) ReadOp(offset int64) (uint32, error) {
	return preadUint32(dev.fileOp, offset)
}

// WriteOp writes an S5933 operation register.
func (dev *Device) WriteOp(offset int64, value uint32) error {
	return pwriteUint32(dev.fileOp, offset, value)
}

// ReadAddOn reads a card register through the bridge pass-through window.
func (dev *Device) ReadAddOn(offset int64) (uint32, error) {
	return preadUint32(dev.fileAddOn, offset)
}

// WriteAddOn writes a card register through the bridge pass-through window.
func (dev *Device) WriteAddOn(offset int64, value uint32) error {
	return pwriteUint32(dev.fileAddOn, offset, value)
}

// WaitInterrupt re-enables the UIO interrupt and blocks on the event
// counter read until the line fires or the deadline passes.
func (dev *Device) WaitInterrupt(timeout time.Duration) error {
	if _, err := dev.fileIRQ.Write(dev.irqEnable[:]); err != nil {
		return err
	}
	if err := dev.fileIRQ.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	var count [4]byte
	n, err := dev.fileIRQ.Read(count[:])
	if err != nil {
		return err
	}
	if n < 4 {
		return fmt.Errorf("short read of %d bytes from %s", n, dev.fileIRQ.Name())
	}
	return nil
}
