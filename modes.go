package pci9118

import "errors"

// AcqMode is the closed set of triggering/timing strategies the card
// supports. Exactly one mode is active for the duration of a run.
type AcqMode int

const (
	// ModeNone means no acquisition is running.
	ModeNone AcqMode = iota
	// ModeConvertTimer: scans follow each other (or start on an
	// external/internal event) and the 8254 cascade paces individual
	// conversions.
	ModeConvertTimer
	// ModeBurst: the cascade paces whole scans; conversions inside a
	// scan run as a burst, timer-paced or back to back.
	ModeBurst
	// ModeExternalConvert: every single conversion waits for the
	// external trigger pin.
	ModeExternalConvert
	// ModeExternalScan: an external trigger starts each scan and the
	// secondary counter must be re-armed after every completed scan
	// rather than free-running.
	ModeExternalScan
)

func (m AcqMode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeConvertTimer:
		return "convert-timer"
	case ModeBurst:
		return "burst"
	case ModeExternalConvert:
		return "external-convert"
	case ModeExternalScan:
		return "external-scan"
	}
	return "invalid"
}

// needsRetrigger reports whether the DMA completion path must re-arm
// the secondary counter after each buffer.
func (m AcqMode) needsRetrigger() bool { return m == ModeExternalScan }

// usesPacer reports whether the mode programs the 8254 cascade at all.
func (m AcqMode) usesPacer() bool {
	return m == ModeConvertTimer || m == ModeBurst || m == ModeExternalScan
}

// ErrIllegalMode marks a trigger combination the hardware cannot serve
// on the chosen transfer path. The burst and external-scan modes only
// work with bus-mastering DMA; reaching them on the per-sample
// interrupt path is a defined illegal state, not a silent fallback.
var ErrIllegalMode = errors.New("acquisition mode requires bus-mastering DMA")

// selectMode classifies a validated command into one of the four
// acquisition modes.
func selectMode(cmd *AcqCommand) AcqMode {
	if (cmd.ScanBeginSrc == TrigFollow || cmd.ScanBeginSrc == TrigExt ||
		cmd.ScanBeginSrc == TrigInt) && cmd.ConvertSrc == TrigTimer {
		if cmd.ScanBeginSrc == TrigExt {
			return ModeExternalScan
		}
		return ModeConvertTimer
	}
	if cmd.ScanBeginSrc == TrigTimer &&
		(cmd.ConvertSrc == TrigTimer || cmd.ConvertSrc == TrigNow) {
		return ModeBurst
	}
	if cmd.ScanBeginSrc == TrigFollow && cmd.ConvertSrc == TrigExt {
		return ModeExternalConvert
	}
	return ModeNone
}

// computePadding decides the transfer path and the padding samples
// needed around each scan. DMA transfers must be aligned to two
// samples (32 bits), so an odd realized scan gets one back-pad sample;
// software-emulated S&H adds front padding to cover the hold delay.
// Some combinations cannot pad their way to alignment and instead fall
// back to per-sample interrupt transfer. May clamp cmd.ConvertArg to
// the hardware minimum.
func (d *Session) computePadding(cmd *AcqCommand) (frontAdd, backAdd int, usedma bool) {
	usedma = d.master
	if usedma {
		if cmd.WakeEOS && cmd.ScanEndArg == 1 {
			if cmd.ConvertSrc == TrigNow {
				backAdd = 1
			}
			if cmd.ConvertSrc == TrigTimer {
				// One-channel scans wake per sample anyway.
				usedma = false
			}
		}
		if cmd.WakeEOS && cmd.ScanEndArg > 1 && cmd.ScanEndArg%2 == 1 {
			if cmd.ScanBeginSrc == TrigFollow {
				// No pacer to absorb an inserted sample; pad would skew
				// the free-running scan rate.
				usedma = false
			} else {
				// Insert one sample at end of scan to meet the 32-bit
				// transfer width.
				backAdd = 1
			}
		}
	}

	// Software S&H needs at least two samples of front padding to let
	// the held voltage settle.
	if cmd.ConvertSrc == TrigNow && d.softSSHDelay > 0 {
		frontAdd = 2
		if usedma && backAdd == 1 {
			// Move the alignment sample to the front.
			frontAdd++
			backAdd = 0
		}
		if cmd.ConvertArg < d.board.AINsMin {
			cmd.ConvertArg = d.board.AINsMin
		}
		addChans := d.softSSHDelay / cmd.ConvertArg
		if d.softSSHDelay%cmd.ConvertArg != 0 {
			addChans++
		}
		if int(addChans) > frontAdd-1 { // still too short for the hold delay
			frontAdd = int(addChans) + 1
			if usedma && (frontAdd+len(cmd.Chanlist)+backAdd)%2 == 1 {
				frontAdd++ // keep the transfer width even
			}
		}
	}
	return frontAdd, backAdd, usedma
}
