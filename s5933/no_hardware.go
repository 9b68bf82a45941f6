package s5933

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// RegWrite is one journaled register write, for asserting register
// sequences in tests.
type RegWrite struct {
	Window string // "op" or "addon"
	Offset int64
	Value  uint32
}

// NoHardware is a drop-in replacement for Device (implements Registers)
// that requires no hardware. Reads are served from values a test sets
// up; writes are journaled. Reading RegADData pops a queued sample,
// like the real FIFO.
type NoHardware struct {
	mu      sync.Mutex
	isOpen  bool
	opRegs  map[int64]uint32
	addRegs map[int64]uint32
	journal []RegWrite
	fifo    []uint16
	irq     chan struct{}
}

// NewNoHardware returns a NoHardware model in the powered-on state.
func NewNoHardware() *NoHardware {
	return &NoHardware{
		isOpen:  true,
		opRegs:  make(map[int64]uint32),
		addRegs: make(map[int64]uint32),
		irq:     make(chan struct{}, 16),
	}
}

// Close errors if already closed.
func (nh *NoHardware) Close() error {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	if !nh.isOpen {
		return fmt.Errorf("NoHardware.Close: already closed")
	}
	nh.isOpen = false
	return nil
}

// ReadOp serves an op-window read from the test-provided register values.
func (nh *NoHardware) ReadOp(offset int64) (uint32, error) {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	if !nh.isOpen {
		return 0, fmt.Errorf("NoHardware.ReadOp: not open")
	}
	return nh.opRegs[offset], nil
}

// WriteOp journals an op-window write and stores it for read-back.
func (nh *NoHardware) WriteOp(offset int64, value uint32) error {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	if !nh.isOpen {
		return fmt.Errorf("NoHardware.WriteOp: not open")
	}
	nh.journal = append(nh.journal, RegWrite{"op", offset, value})
	nh.opRegs[offset] = value
	return nil
}

// ReadAddOn serves an add-on-window read. RegADData pops the sample
// FIFO; other offsets return the test-provided value.
func (nh *NoHardware) ReadAddOn(offset int64) (uint32, error) {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	if !nh.isOpen {
		return 0, fmt.Errorf("NoHardware.ReadAddOn: not open")
	}
	if offset == RegADData {
		if len(nh.fifo) == 0 {
			return 0, nil
		}
		v := nh.fifo[0]
		nh.fifo = nh.fifo[1:]
		return uint32(v), nil
	}
	return nh.addRegs[offset], nil
}

// WriteAddOn journals an add-on-window write.
func (nh *NoHardware) WriteAddOn(offset int64, value uint32) error {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	if !nh.isOpen {
		return fmt.Errorf("NoHardware.WriteAddOn: not open")
	}
	nh.journal = append(nh.journal, RegWrite{"addon", offset, value})
	return nil
}

// WaitInterrupt blocks until Interrupt is called or the timeout passes.
func (nh *NoHardware) WaitInterrupt(timeout time.Duration) error {
	select {
	case <-nh.irq:
		return nil
	case <-time.After(timeout):
		return os.ErrDeadlineExceeded
	}
}

// Interrupt simulates the shared interrupt line firing.
func (nh *NoHardware) Interrupt() {
	nh.irq <- struct{}{}
}

// SetOpReg sets the value the next ReadOp of offset will return.
func (nh *NoHardware) SetOpReg(offset int64, value uint32) {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	nh.opRegs[offset] = value
}

// SetAddOnReg sets the value the next ReadAddOn of offset will return.
func (nh *NoHardware) SetAddOnReg(offset int64, value uint32) {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	nh.addRegs[offset] = value
}

// PushSamples queues conversion results behind RegADData.
func (nh *NoHardware) PushSamples(samples ...uint16) {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	nh.fifo = append(nh.fifo, samples...)
}

// Writes returns a copy of the write journal.
func (nh *NoHardware) Writes() []RegWrite {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	out := make([]RegWrite, len(nh.journal))
	copy(out, nh.journal)
	return out
}

// WritesAt returns the sequence of values written to one register.
func (nh *NoHardware) WritesAt(window string, offset int64) []uint32 {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	var out []uint32
	for _, w := range nh.journal {
		if w.Window == window && w.Offset == offset {
			out = append(out, w.Value)
		}
	}
	return out
}

// ClearJournal empties the write journal.
func (nh *NoHardware) ClearJournal() {
	nh.mu.Lock()
	defer nh.mu.Unlock()
	nh.journal = nh.journal[:0]
}
