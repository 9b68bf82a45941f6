package pci9118

// pacerOscNS is the period of the card's 4 MHz base oscillator feeding
// the 8254 counter cascade.
const pacerOscNS = 250

// Divisor limits of one 8254 counter in rate-generator mode.
const (
	minDivisor = 2
	maxDivisor = 0x10000
)

// cascadeDivisors finds two cascaded 8254 divisors whose product
// realizes the requested period. With roundNearest the closest
// realizable period wins; otherwise the result is never shorter than
// requested. Returns the chosen divisors and the realized period in ns.
func cascadeDivisors(periodNS uint32, roundNearest bool) (div1, div2, realized uint32) {
	target := uint64(periodNS)
	const base = uint64(pacerOscNS)

	var glbNS, glbD1, glbD2 uint64 // longest realizable period <= target
	lubNS := uint64(1) << 62       // shortest realizable period >= target
	var lubD1, lubD2 uint64

	for d1 := uint64(minDivisor); d1 <= maxDivisor; d1++ {
		d2 := target / (base * d1)
		for _, cand := range [2]uint64{d2, d2 + 1} {
			if cand < minDivisor {
				cand = minDivisor
			}
			if cand > maxDivisor {
				cand = maxDivisor
			}
			ns := base * d1 * cand
			if ns <= target && ns > glbNS {
				glbNS, glbD1, glbD2 = ns, d1, cand
			}
			if ns >= target && ns < lubNS {
				lubNS, lubD1, lubD2 = ns, d1, cand
			}
		}
	}

	if roundNearest && glbNS != 0 && target-glbNS < lubNS-target {
		return uint32(glbD1), uint32(glbD2), uint32(glbNS)
	}
	return uint32(lubD1), uint32(lubD2), uint32(lubNS)
}

// computeDivisors turns the command's requested periods into the two
// pacer divisors for the selected mode, rewriting the command's period
// arguments to the realized values. The simplest way to look at it:
// the conversion rate is 4 MHz / (div1*div2), and channel switching
// happens without any timer involvement.
func (d *Session) computeDivisors(mode AcqMode, cmd *AcqCommand, realScanLen uint32, frontAdd int) (div1, div2 uint32) {
	board := d.board
	switch mode {
	case ModeConvertTimer, ModeExternalScan:
		// One cascade paces individual conversions.
		if cmd.ConvertArg < board.AINsMin {
			cmd.ConvertArg = board.AINsMin
		}
		div1, div2, cmd.ConvertArg = cascadeDivisors(cmd.ConvertArg, cmd.RoundNearest)

	case ModeBurst:
		// div1 paces conversions inside a burst, div2 counts bursts.
		if cmd.ConvertArg < board.AINsMin {
			cmd.ConvertArg = board.AINsMin
		}
		div1 = cmd.ConvertArg / pacerOscNS
		if div1 < board.AIPacerMin {
			div1 = board.AIPacerMin
		}
		div2 = cmd.ScanBeginArg / pacerOscNS / div1
		if div2 < realScanLen {
			div2 = realScanLen
		}

		cmd.ConvertArg = div1 * pacerOscNS // realized convert period

		if cmd.ConvertSrc == TrigNow && frontAdd == 0 {
			// The onboard S&H pulse needs two extra counts per burst.
			if div2 < realScanLen+2 {
				div2 = realScanLen + 2
			}
		}
		cmd.ScanBeginArg = div1 * div2 * pacerOscNS
	}
	return div1, div2
}
