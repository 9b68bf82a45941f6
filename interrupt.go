package pci9118

import (
	"github.com/usnistgov/pci9118/s5933"
)

// decodeErrorStatus classifies latched A/D status errors. Each error
// logs once per run: its mask bit is cleared after the first report so
// a stuck condition does not flood the problem log. Returns true when
// the condition is in the hard-error mask and the run must stop.
func (d *Session) decodeErrorStatus(m uint32) bool {
	if m&adStatusNFull != 0 {
		ProblemLogger.Printf("A/D FIFO full (fatal)")
		d.maskErr &^= adStatusNFull
	}
	if m&adStatusBover != 0 {
		ProblemLogger.Printf("A/D burst mode overrun (fatal)")
		d.maskErr &^= adStatusBover
	}
	if m&adStatusADOS != 0 {
		ProblemLogger.Printf("A/D over speed (warning)")
		d.maskErr &^= adStatusADOS
	}
	if m&adStatusADOR != 0 {
		ProblemLogger.Printf("A/D overrun (fatal)")
		d.maskErr &^= adStatusADOR
	}
	return m&d.maskHardErr != 0
}

// finish ends the run from the service path: the consumer gets the
// events, the hardware is quiesced.
func (d *Session) finish(flags EventFlag) {
	d.stream.postEvent(flags)
	if err := d.stopAcquisition(); err != nil {
		ProblemLogger.Printf("error while stopping acquisition: %v", err)
	}
}

// serviceOneSample handles the per-sample interrupt transfer path: pop
// one conversion result from the FIFO, check it, and account for scan
// progress. Samples are batched per scan before the consumer hand-off.
func (d *Session) serviceOneSample(adstat uint32) {
	if adstat&d.maskErr != 0 && d.decodeErrorStatus(adstat) {
		d.finish(EventError | EventEOA)
		return
	}

	raw, err := d.hw.ReadAddOn(s5933.RegADData)
	if err != nil {
		ProblemLogger.Printf("could not read A/D data: %v", err)
		d.finish(EventError | EventEOA)
		return
	}
	sample := uint16(raw)

	// On 12-bit boards the low nibble tags the source channel, so a
	// mismatch against the channel list means the FIFO dropped data.
	if d.board.AIMaxdata != 0xffff {
		want := uint16(d.chanlist[int(d.curChan)%len(d.chanlist)].Chan) & 0x0f
		if sample&0x000f != want {
			ProblemLogger.Printf("A/D data dropout: received channel %d, expected %d",
				sample&0x000f, want)
			d.finish(EventError | EventEOA)
			return
		}
	}

	scratch := [1]uint16{sample}
	d.mungeSamples(scratch[:], false)
	d.scanScratch = append(d.scanScratch, scratch[0])

	d.curChan++
	if d.curChan >= d.cmd.ScanEndArg { // one scan done
		d.curChan %= d.cmd.ScanEndArg
		d.actScan++
		if err := d.stream.writeSamples(d.scanScratch); err != nil {
			ProblemLogger.Printf("%v", err)
			d.finish(EventError | EventEOA)
			return
		}
		d.scanScratch = d.scanScratch[:0]
		if !d.neverending && d.actScan >= d.cmd.StopArg {
			d.finish(EventEOA)
		}
	}
}

// serviceDMA handles one completed bus-master transfer. With double
// buffering, the idle buffer is armed first so the card keeps
// streaming while this buffer is retired; single buffering re-arms the
// same buffer after retiring it and accepts the gap.
func (d *Session) serviceDMA(adstat, intcsr uint32) {
	if intcsr&s5933.MasterAbortInt != 0 {
		ProblemLogger.Printf("DMA master abort")
		d.finish(EventError | EventEOA)
		return
	}
	if intcsr&s5933.TargetAbortInt != 0 {
		ProblemLogger.Printf("DMA target abort")
		d.finish(EventError | EventEOA)
		return
	}
	if adstat&d.maskErr != 0 && d.decodeErrorStatus(adstat) {
		d.finish(EventError | EventEOA)
		return
	}

	active := d.dma.bufs[d.dma.actbuf]
	samplesInBuf := active.useSize >> 1

	if d.dma.double {
		next := d.dma.bufs[1-d.dma.actbuf]
		if err := d.hw.WriteOp(s5933.OpRegMWAR, next.busAddr); err != nil {
			ProblemLogger.Printf("could not re-arm DMA: %v", err)
		}
		if err := d.hw.WriteOp(s5933.OpRegMWTC, next.useSize); err != nil {
			ProblemLogger.Printf("could not re-arm DMA: %v", err)
		}
		if d.mode.needsRetrigger() {
			d.retriggerScanCounter(next.busAddr)
		}
	}

	if samplesInBuf > 0 {
		if err := d.moveBlockFromDMA(active.words[:samplesInBuf]); err != nil {
			ProblemLogger.Printf("%v", err)
			d.finish(EventError | EventEOA)
			return
		}
	}

	if !d.neverending && d.actScan >= d.cmd.StopArg {
		d.finish(EventEOA)
		return
	}

	if d.dma.double {
		d.dma.actbuf = 1 - d.dma.actbuf
	} else {
		buf0 := d.dma.bufs[0]
		if err := d.hw.WriteOp(s5933.OpRegMWAR, buf0.busAddr); err != nil {
			ProblemLogger.Printf("could not re-arm DMA: %v", err)
		}
		if err := d.hw.WriteOp(s5933.OpRegMWTC, buf0.useSize); err != nil {
			ProblemLogger.Printf("could not re-arm DMA: %v", err)
		}
		if d.mode.needsRetrigger() {
			d.retriggerScanCounter(buf0.busAddr)
		}
	}
}

// retriggerScanCounter re-arms counter 0 for the next external-scan
// block: stop the trigger, reload the about-trigger count from the
// buffer being armed, and start again.
func (d *Session) retriggerScanCounter(arm uint32) {
	hw := d.hw
	d.adFunction = adFuncPDTrg | adFuncPETrg | adFuncAM
	hw.WriteAddOn(s5933.RegADFunc, d.adFunction)
	hw.WriteAddOn(s5933.RegCNTCtrl, 0x30)
	hw.WriteAddOn(s5933.RegCNT0, (arm>>1)&0xff)
	hw.WriteAddOn(s5933.RegCNT0, (arm>>9)&0xff)
	d.adFunction |= adFuncStart
	hw.WriteAddOn(s5933.RegADFunc, d.adFunction)
}

// ServiceInterrupt handles one shared-interrupt event: identify the
// cause, ack the bridge latches first so a concurrent event is not
// lost, run any pending external start/stop transition, then dispatch
// to the DMA or per-sample path. Returns without error when the
// interrupt was not ours.
func (d *Session) ServiceInterrupt() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	intsrcRaw, err := d.hw.ReadAddOn(s5933.RegIntSrc)
	if err != nil {
		return err
	}
	intsrc := intsrcRaw & 0xf
	intcsr, err := d.hw.ReadOp(s5933.OpRegINTCSR)
	if err != nil {
		return err
	}
	if intsrc == 0 && intcsr&s5933.AnyInt == 0 {
		return nil // shared line, not our card
	}
	if err := d.hw.WriteOp(s5933.OpRegINTCSR, intcsr|s5933.IntAckBits); err != nil {
		return err
	}

	adstat, err := d.hw.ReadAddOn(s5933.RegADStat)
	if err != nil {
		return err
	}
	adstat &= 0x1ff

	if d.mode == ModeNone {
		return nil // spurious, nothing running
	}

	if d.startstop != 0 && adstat&adStatusDTH != 0 && intsrc&intDTrg != 0 {
		if d.startstop&startAIExt != 0 {
			// The external start edge arrived: release the trigger
			// unless the stop side still needs it, then go.
			d.startstop &^= startAIExt
			if d.startstop&stopAIExt == 0 {
				if err := d.delExtTrigger(TrigAI); err != nil {
					return err
				}
			}
			if err := d.startPacer(d.mode); err != nil {
				return err
			}
			if err := d.hw.WriteAddOn(s5933.RegADControl, d.adControl); err != nil {
				return err
			}
		} else if d.startstop&stopAIExt != 0 {
			// The external stop edge arrived: the run winds down at the
			// next completion.
			d.startstop &^= stopAIExt
			if err := d.delExtTrigger(TrigAI); err != nil {
				return err
			}
			d.neverending = false
		}
	}

	if d.usedma {
		d.serviceDMA(adstat, intcsr)
	} else {
		d.serviceOneSample(adstat)
	}
	return nil
}
