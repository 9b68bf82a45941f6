package pci9118

import "math/bits"

// mungeSamples normalizes raw conversion words in place. DMA blocks
// arrive big-endian from the bridge and need a byte swap first. Then
// 16-bit boards flip the sign bit to go from two's complement to
// offset binary; 12-bit boards carry the result in the top 12 bits
// with the channel tag in the bottom 4, so the result shifts down.
func (d *Session) mungeSamples(samples []uint16, fromDMA bool) {
	sixteen := d.board.AIMaxdata == 0xffff
	for i, s := range samples {
		if fromDMA {
			s = bits.ReverseBytes16(s)
		}
		if sixteen {
			s ^= 0x8000
		} else {
			s = (s >> 4) & 0x0fff
		}
		samples[i] = s
	}
}
