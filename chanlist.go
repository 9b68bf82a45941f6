package pci9118

import (
	"fmt"

	"github.com/usnistgov/pci9118/s5933"
)

// checkChanlist confirms a channel list (plus the padding the run will
// insert around it) can be programmed: non-empty, fits the scan queue,
// homogeneous in reference mode and polarity class, and differential
// references only on channels the hardware can pair. It touches no
// hardware, so it is safe from the validation path.
func (d *Session) checkChanlist(list []ChanSpec, frontAdd, backAdd int) error {
	if len(list) < 1 {
		return fmt.Errorf("channel list is empty")
	}
	if frontAdd+len(list)+backAdd > d.board.NChanlist {
		return fmt.Errorf("channel list of %d entries (+%d pad) exceeds queue capacity %d",
			len(list), frontAdd+backAdd, d.board.NChanlist)
	}

	differential := list[0].Diff
	bipolar := list[0].bipolar()
	for _, cs := range list[1:] {
		if cs.Diff != differential {
			return fmt.Errorf("differential and single-ended inputs can't be mixed")
		}
		if cs.bipolar() != bipolar {
			return fmt.Errorf("bipolar and unipolar ranges can't be mixed")
		}
		if d.usemux == 0 && differential && cs.Chan >= d.board.NAIChanDiff {
			return fmt.Errorf("differential reference is only available for the first %d channels",
				d.board.NAIChanDiff)
		}
	}
	return nil
}

// queueEntry serializes one scan-queue register value: channel number,
// two gain bits, and the S&H phase tag.
func queueEntry(cs ChanSpec, ssh uint32) uint32 {
	return uint32(cs.Chan) | (uint32(cs.Range)&0x03)<<8 | ssh
}

// setupChanlist programs the already-validated channel list into the
// card's scan queue. Padding entries replicate the first real channel;
// front entries carry the sample-phase tag so an external S&H board
// sees a timed sample/hold edge. Padding channels are never surfaced to
// the consumer.
func (d *Session) setupChanlist(list []ChanSpec, frontAdd, backAdd int) error {
	differential := list[0].Diff
	bipolar := list[0].bipolar()

	if !bipolar {
		d.adControl |= adControlUniP
	} else {
		d.adControl &^= adControlUniP
	}
	if differential {
		d.adControl |= adControlDiff
	} else {
		d.adControl &^= adControlDiff
	}
	if err := d.hw.WriteAddOn(s5933.RegADControl, d.adControl); err != nil {
		return err
	}

	// The documented scan-queue reset sequence. Gods know why.
	for _, v := range [...]uint32{2, 0, 1} {
		if err := d.hw.WriteAddOn(s5933.RegScanMode, v); err != nil {
			return err
		}
	}

	var ssh uint32
	if frontAdd > 0 { // insert channels for S&H settling
		ssh = d.softSSHSample
		for i := 0; i < frontAdd; i++ {
			if err := d.hw.WriteAddOn(s5933.RegGain, queueEntry(list[0], ssh)); err != nil {
				return err
			}
			ssh = d.softSSHHold
		}
	}

	for _, cs := range list {
		if err := d.hw.WriteAddOn(s5933.RegGain, queueEntry(cs, ssh)); err != nil {
			return err
		}
	}

	for i := 0; i < backAdd; i++ { // insert channels to fit the 32-bit DMA width
		if err := d.hw.WriteAddOn(s5933.RegGain, queueEntry(list[0], ssh)); err != nil {
			return err
		}
	}

	// Close the scan queue.
	return d.hw.WriteAddOn(s5933.RegScanMode, 0)
}
