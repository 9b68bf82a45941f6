package pci9118

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/usnistgov/pci9118/s5933"
)

// Pending external/internal start and stop conditions of a run.
const (
	startAIExt uint8 = 1 << iota // waiting for external trigger to start
	stopAIExt                    // external trigger will stop the run
	startAIInt                   // waiting for InternalTrigger to start
)

// AttachOptions selects the card variant and per-installation wiring.
type AttachOptions struct {
	Board  string // board variant name (all variants share one PCI ID)
	Master bool   // card sits in a bus-mastering slot; enables DMA

	// ExtMux is the channel count of an external multiplexer daisy
	// board, or 0 when the card's own inputs are used.
	ExtMux int

	// SoftSSHDelay enables software-emulated sample & hold with the
	// given hold settling time in ns. A negative value selects the
	// inverted S&H signal polarity.
	SoftSSHDelay int

	// HardErrMask overrides which A/D status errors abort a run. Zero
	// keeps the default (FIFO full, burst overrun, A/D overrun).
	HardErrMask uint32

	// StreamBytes bounds the consumer buffer; zero picks a default.
	StreamBytes uint32
}

const defaultStreamBytes = 4 << 20

// Session is one attached card: the register shadows, the acquisition
// state machine, and the service goroutine that turns interrupts into
// consumer deliveries. All exported methods are safe for concurrent
// use; the interrupt service path shares the same lock.
type Session struct {
	mu sync.Mutex
	hw s5933.Registers

	board  *Board
	master bool
	usemux int

	softSSHDelay  uint32
	softSSHSample uint32
	softSSHHold   uint32

	// write-only register shadows
	adControl  uint32
	adFunction uint32
	intControl uint32

	maskErr     uint32
	maskHardErr uint32
	hardErrOpt  uint32 // attach-time override, reapplied per run

	// active run
	mode        AcqMode
	cmd         *AcqCommand
	chanlist    []ChanSpec
	usedma      bool
	wakeEOS     bool
	addFront    int
	addBack     int
	realScanLen uint32
	divisor1    uint32
	divisor2    uint32
	neverending bool
	startstop   uint8
	actScan     uint32
	actDMAPos   int
	curChan     uint32
	scanScratch []uint16
	run         *Run

	dma    *dmaPair
	stream *Stream

	exttrgUsers uint8

	// subdevice caches (the DA and DO registers are write-only)
	aoData  [2]uint16
	doState uint32

	abort chan struct{}
	wg    sync.WaitGroup
}

// Attach brings up a card behind the given register interface: reset
// it to a known state, reserve DMA buffers if the slot allows bus
// mastering, and start the interrupt service goroutine.
func Attach(hw s5933.Registers, opts AttachOptions) (*Session, error) {
	board := BoardByName(opts.Board)
	if board == nil {
		return nil, fmt.Errorf("unknown board variant %q", opts.Board)
	}

	d := &Session{
		hw:          hw,
		board:       board,
		master:      opts.Master,
		maskHardErr: adStatusNFull | adStatusBover | adStatusADOR,
		hardErrOpt:  opts.HardErrMask,
	}
	if opts.HardErrMask != 0 {
		d.maskHardErr = opts.HardErrMask
	}
	if opts.ExtMux > 0 {
		d.usemux = opts.ExtMux
		if d.usemux > board.MuxAIChan {
			d.usemux = board.MuxAIChan
		}
	}
	if opts.SoftSSHDelay < 0 {
		d.softSSHDelay = uint32(-opts.SoftSSHDelay)
		d.softSSHSample = sshTagBit
		d.softSSHHold = 0
	} else {
		d.softSSHDelay = uint32(opts.SoftSSHDelay)
		d.softSSHSample = 0
		d.softSSHHold = sshTagBit
	}

	if err := d.reset(); err != nil {
		return nil, fmt.Errorf("card reset failed: %w", err)
	}

	if d.master {
		if err := checkDMAPrerequisites(); err != nil {
			ProblemLogger.Printf("DMA disabled: %v", err)
			d.master = false
		} else if pair, err := allocDMAPair(); err != nil {
			ProblemLogger.Printf("DMA disabled, could not reserve buffers: %v", err)
			d.master = false
		} else {
			d.dma = pair
		}
	}

	streamBytes := opts.StreamBytes
	if streamBytes == 0 {
		streamBytes = defaultStreamBytes
	}
	d.stream = NewStream(streamBytes)

	d.abort = make(chan struct{})
	d.wg.Add(1)
	go d.serviceLoop()
	return d, nil
}

// Stream returns the consumer side of this session.
func (d *Session) Stream() *Stream { return d.stream }

// Board returns the attached card variant.
func (d *Session) Board() *Board { return d.board }

// Run returns the metadata of the current (or last) run, nil before
// the first StartAcquisition.
func (d *Session) Run() *Run {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.run
}

// serviceLoop waits on the shared interrupt line and services each
// event until Detach.
func (d *Session) serviceLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.abort:
			return
		default:
		}
		err := d.hw.WaitInterrupt(100 * time.Millisecond)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		if err != nil {
			select {
			case <-d.abort: // closed device during shutdown
				return
			default:
			}
			ProblemLogger.Printf("interrupt wait failed: %v", err)
			continue
		}
		if err := d.ServiceInterrupt(); err != nil {
			ProblemLogger.Printf("interrupt service failed: %v", err)
		}
	}
}

// reset puts the card into the quiescent power-on state: interrupts
// off, counters stopped, scan queue cleared, analog outputs recentered
// to mid-scale, digital outputs low, FIFO flushed.
func (d *Session) reset() error {
	hw := d.hw
	d.intControl = 0
	d.exttrgUsers = 0
	if err := hw.WriteAddOn(s5933.RegIntCtrl, d.intControl); err != nil {
		return err
	}
	if err := hw.WriteAddOn(s5933.RegCNTCtrl, 0x30); err != nil {
		return err
	}
	if err := d.stopPacer(); err != nil {
		return err
	}
	d.adControl = 0
	if err := hw.WriteAddOn(s5933.RegADControl, d.adControl); err != nil {
		return err
	}
	if err := hw.WriteAddOn(s5933.RegBurst, 0); err != nil {
		return err
	}
	for _, v := range [...]uint32{1, 2} { // reset scan queue
		if err := hw.WriteAddOn(s5933.RegScanMode, v); err != nil {
			return err
		}
	}
	d.adFunction = adFuncPDTrg | adFuncPETrg
	if err := hw.WriteAddOn(s5933.RegADFunc, d.adFunction); err != nil {
		return err
	}

	midscale := d.board.AOMaxdata / 2
	d.aoData = [2]uint16{midscale, midscale}
	if err := hw.WriteAddOn(s5933.RegDA1, uint32(d.aoData[0])); err != nil {
		return err
	}
	if err := hw.WriteAddOn(s5933.RegDA2, uint32(d.aoData[1])); err != nil {
		return err
	}
	d.doState = 0
	if err := hw.WriteAddOn(s5933.RegDO, 0); err != nil {
		return err
	}

	// Flush the FIFO and drop any latched status or interrupt request.
	if _, err := hw.ReadAddOn(s5933.RegADData); err != nil {
		return err
	}
	if err := hw.WriteAddOn(s5933.RegFIFOReset, 0); err != nil {
		return err
	}
	if err := hw.WriteAddOn(s5933.RegIntCtrl, 0); err != nil {
		return err
	}
	if _, err := hw.ReadAddOn(s5933.RegADStat); err != nil {
		return err
	}
	if _, err := hw.ReadAddOn(s5933.RegIntSrc); err != nil {
		return err
	}
	d.adControl = 0
	return hw.WriteAddOn(s5933.RegADControl, d.adControl)
}

// startPacer loads the 8254 cascade with the current divisors and
// starts it for modes that pace by timer. The two control words set
// counters 1 and 2 to rate-generator mode before any load.
func (d *Session) startPacer(mode AcqMode) error {
	hw := d.hw
	if err := hw.WriteAddOn(s5933.RegCNTCtrl, 0x74); err != nil {
		return err
	}
	if err := hw.WriteAddOn(s5933.RegCNTCtrl, 0xb4); err != nil {
		return err
	}
	if !mode.usesPacer() {
		return nil
	}
	if err := hw.WriteAddOn(s5933.RegCNT2, d.divisor2&0xff); err != nil {
		return err
	}
	if err := hw.WriteAddOn(s5933.RegCNT2, (d.divisor2>>8)&0xff); err != nil {
		return err
	}
	if err := hw.WriteAddOn(s5933.RegCNT1, d.divisor1&0xff); err != nil {
		return err
	}
	return hw.WriteAddOn(s5933.RegCNT1, (d.divisor1>>8)&0xff)
}

// stopPacer leaves the counters in rate-generator mode but unloaded,
// which stops them.
func (d *Session) stopPacer() error { return d.startPacer(ModeNone) }

// StartAcquisition validates and starts a streamed acquisition. The
// command's arguments may be corrected in place to what the hardware
// realizes. Samples arrive on Stream().Scans() once the start
// condition is met.
func (d *Session) StartAcquisition(cmd *AcqCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mode != ModeNone {
		return fmt.Errorf("acquisition already running")
	}
	if cerr := d.CheckCommand(cmd); cerr != nil {
		return cerr
	}

	d.cmd = cmd
	d.chanlist = cmd.Chanlist
	d.maskErr = adStatusNFull | adStatusADOS | adStatusADOR | adStatusBover
	d.maskHardErr = adStatusNFull | adStatusBover | adStatusADOR
	if d.hardErrOpt != 0 {
		d.maskHardErr = d.hardErrOpt
	}

	// Start/stop conditions.
	d.startstop = 0
	d.neverending = false
	if cmd.StartSrc == TrigExt {
		d.startstop |= startAIExt
	}
	if cmd.StartSrc == TrigInt {
		d.startstop |= startAIInt
	}
	if cmd.StopSrc == TrigExt {
		d.neverending = true
		d.startstop |= stopAIExt
	}
	if cmd.StopSrc == TrigNone {
		d.neverending = true
	}

	d.addFront, d.addBack, d.usedma = d.computePadding(cmd)
	if d.dma == nil {
		d.usedma = false
	}
	d.realScanLen = uint32(d.addFront+len(cmd.Chanlist)+d.addBack) *
		(cmd.ScanEndArg / uint32(len(cmd.Chanlist)))

	mode := selectMode(cmd)
	if mode == ModeNone {
		return fmt.Errorf("trigger combination selects no acquisition mode")
	}
	if !d.usedma && (mode == ModeBurst || mode == ModeExternalScan) {
		return ErrIllegalMode
	}

	if err := d.checkChanlist(cmd.Chanlist, d.addFront, d.addBack); err != nil {
		return err
	}
	if err := d.setupChanlist(cmd.Chanlist, d.addFront, d.addBack); err != nil {
		return err
	}

	if mode.usesPacer() {
		d.divisor1, d.divisor2 = d.computeDivisors(mode, cmd, d.realScanLen, d.addFront)
	}

	// Quiesce before arming.
	if err := d.stopPacer(); err != nil {
		return err
	}
	d.adControl = 0
	if err := d.hw.WriteAddOn(s5933.RegADControl, d.adControl); err != nil {
		return err
	}
	d.adFunction = adFuncPDTrg | adFuncPETrg
	if err := d.hw.WriteAddOn(s5933.RegADFunc, d.adFunction); err != nil {
		return err
	}
	if err := d.hw.WriteAddOn(s5933.RegFIFOReset, 0); err != nil {
		return err
	}
	if _, err := d.hw.ReadAddOn(s5933.RegADStat); err != nil {
		return err
	}
	if _, err := d.hw.ReadAddOn(s5933.RegIntSrc); err != nil {
		return err
	}

	d.actScan = 0
	d.actDMAPos = 0
	d.curChan = 0
	d.scanScratch = d.scanScratch[:0]
	d.intControl = 0
	d.mode = mode

	var err error
	if d.usedma {
		err = d.startDMA()
	} else {
		err = d.startOneSample()
	}
	if err != nil {
		d.mode = ModeNone
		return err
	}
	d.run = NewRun(d.board.Name, mode, len(cmd.Chanlist))
	return nil
}

// startOneSample arms the per-sample interrupt transfer path.
func (d *Session) startOneSample() error {
	switch d.mode {
	case ModeConvertTimer:
		d.adControl |= adControlTmrTr
	case ModeExternalConvert:
		d.adControl |= adControlExtM
	default:
		return ErrIllegalMode
	}

	if d.startstop != 0 {
		if err := d.addExtTrigger(TrigAI); err != nil {
			return err
		}
	}
	if d.mode == ModeConvertTimer {
		d.intControl |= intTimer
	}
	d.adControl |= adControlInt

	intcsr, err := d.hw.ReadOp(s5933.OpRegINTCSR)
	if err != nil {
		return err
	}
	if err := d.hw.WriteOp(s5933.OpRegINTCSR, intcsr|s5933.IntAddOnEnable); err != nil {
		return err
	}

	if d.startstop&(startAIExt|startAIInt) != 0 {
		return nil // armed, waiting for the start condition
	}
	return d.triggerStart()
}

// startDMA arms the bus-master transfer path.
func (d *Session) startDMA() error {
	d.wakeEOS = d.computeDMASizes(d.cmd.WakeEOS)
	if err := d.armDMA(); err != nil {
		return err
	}

	switch d.mode {
	case ModeConvertTimer:
		d.adControl |= adControlTmrTr | adControlDma
	case ModeBurst:
		d.adControl |= adControlTmrTr | adControlDma
		d.adFunction = adFuncPDTrg | adFuncPETrg | adFuncBM | adFuncBS
		if d.cmd.ConvertSrc == TrigNow && d.softSSHDelay == 0 {
			d.adFunction |= adFuncBSSH // onboard S&H pulse
		}
		if err := d.hw.WriteAddOn(s5933.RegBurst, d.realScanLen); err != nil {
			return err
		}
	case ModeExternalConvert:
		d.adControl |= adControlExtM | adControlDma
		d.adFunction = adFuncPDTrg | adFuncPETrg
	case ModeExternalScan:
		d.adControl |= adControlTmrTr | adControlDma
		d.adFunction = adFuncPDTrg | adFuncPETrg | adFuncAM
		if err := d.hw.WriteAddOn(s5933.RegADFunc, d.adFunction); err != nil {
			return err
		}
		if err := d.hw.WriteAddOn(s5933.RegCNTCtrl, 0x30); err != nil {
			return err
		}
		arm := d.dma.bufs[0].busAddr
		if err := d.hw.WriteAddOn(s5933.RegCNT0, (arm>>1)&0xff); err != nil {
			return err
		}
		if err := d.hw.WriteAddOn(s5933.RegCNT0, (arm>>9)&0xff); err != nil {
			return err
		}
		d.adFunction |= adFuncStart
	}

	if d.startstop != 0 {
		if err := d.addExtTrigger(TrigAI); err != nil {
			return err
		}
	}
	if err := d.hw.WriteOp(s5933.OpRegINTCSR, s5933.IntMWTCZero|s5933.AIntWriteCompl); err != nil {
		return err
	}

	if d.startstop&(startAIExt|startAIInt) != 0 {
		return nil // armed, waiting for the start condition
	}
	return d.triggerStart()
}

// triggerStart releases a fully-armed run: function register, interrupt
// sources, pacer, and finally the control register with the gate open.
func (d *Session) triggerStart() error {
	if err := d.hw.WriteAddOn(s5933.RegADFunc, d.adFunction); err != nil {
		return err
	}
	if err := d.hw.WriteAddOn(s5933.RegIntCtrl, d.intControl); err != nil {
		return err
	}
	if d.mode != ModeExternalConvert {
		if err := d.startPacer(d.mode); err != nil {
			return err
		}
		d.adControl |= adControlSoftG
	}
	return d.hw.WriteAddOn(s5933.RegADControl, d.adControl)
}

// InternalTrigger releases a run armed with a deferred internal start.
// The trigger number must match the command's StartArg.
func (d *Session) InternalTrigger(trigNum uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mode == ModeNone || d.startstop&startAIInt == 0 {
		return fmt.Errorf("no deferred start armed")
	}
	if trigNum != d.cmd.StartArg {
		return fmt.Errorf("internal trigger %d does not match armed trigger %d",
			trigNum, d.cmd.StartArg)
	}
	d.startstop &^= startAIInt
	return d.triggerStart()
}

// stopAcquisition quiesces a running acquisition. Callers hold d.mu.
// Idempotent: stopping a stopped session is a no-op.
func (d *Session) stopAcquisition() error {
	if d.mode == ModeNone {
		return nil
	}
	hw := d.hw
	if d.usedma {
		mcsr, err := hw.ReadOp(s5933.OpRegMCSR)
		if err != nil {
			return err
		}
		if err := hw.WriteOp(s5933.OpRegMCSR, mcsr&^s5933.EnA2PTransfers); err != nil {
			return err
		}
	}
	if err := d.delExtTrigger(TrigAI); err != nil {
		return err
	}
	if err := d.stopPacer(); err != nil {
		return err
	}
	d.adFunction = adFuncPDTrg | adFuncPETrg
	if err := hw.WriteAddOn(s5933.RegADFunc, d.adFunction); err != nil {
		return err
	}
	d.adControl = 0
	if err := hw.WriteAddOn(s5933.RegADControl, d.adControl); err != nil {
		return err
	}
	if err := hw.WriteAddOn(s5933.RegBurst, 0); err != nil {
		return err
	}
	for _, v := range [...]uint32{1, 2} { // reset scan queue
		if err := hw.WriteAddOn(s5933.RegScanMode, v); err != nil {
			return err
		}
	}
	if err := hw.WriteAddOn(s5933.RegFIFOReset, 0); err != nil {
		return err
	}

	d.mode = ModeNone
	d.usedma = false
	d.actScan = 0
	d.actDMAPos = 0
	d.curChan = 0
	d.startstop = 0
	d.neverending = false
	if d.dma != nil {
		d.dma.actbuf = 0
	}
	if d.run != nil {
		d.run.Finish()
	}

	if d.intControl == 0 {
		intcsr, err := hw.ReadOp(s5933.OpRegINTCSR)
		if err != nil {
			return err
		}
		return hw.WriteOp(s5933.OpRegINTCSR, intcsr|s5933.IntAddOnEnable)
	}
	return nil
}

// Cancel stops a running acquisition. Safe to call at any time.
func (d *Session) Cancel() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopAcquisition()
}

// Detach cancels any run, resets the card, stops the service goroutine
// and releases the DMA buffers and the register windows.
func (d *Session) Detach() error {
	d.mu.Lock()
	if err := d.stopAcquisition(); err != nil {
		ProblemLogger.Printf("error stopping acquisition on detach: %v", err)
	}
	if err := d.reset(); err != nil {
		ProblemLogger.Printf("error resetting card on detach: %v", err)
	}
	d.mu.Unlock()

	close(d.abort)
	err := d.hw.Close()
	d.wg.Wait()
	if d.dma != nil {
		d.dma.release()
		d.dma = nil
	}
	return err
}
