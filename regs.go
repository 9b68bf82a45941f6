package pci9118

// Bits of the A/D control register (s5933.RegADControl). The register
// is write-only; the Session keeps a shadow of the last written value.
const (
	adControlUniP  uint32 = 0x80 // 1=unipolar, 0=bipolar encoding
	adControlDiff  uint32 = 0x40 // 1=differential, 0=single-ended inputs
	adControlSoftG uint32 = 0x20 // 1=8254 counters run, 0=counters stopped
	adControlExtG  uint32 = 0x10 // 1=8254 gated by TGIN pin, 0=gated by SoftG
	adControlExtM  uint32 = 0x08 // 1=external hardware trigger, 0=internal
	adControlTmrTr uint32 = 0x04 // 1=8254 is the trigger source, 0=software trigger
	adControlInt   uint32 = 0x02 // 1=enable INT
	adControlDma   uint32 = 0x01 // 1=enable DMA
)

// Bits of the A/D function register (s5933.RegADFunc). Write-only,
// shadowed.
const (
	adFuncPDTrg uint32 = 0x80 // positive digital trigger (only positive is correct)
	adFuncPETrg uint32 = 0x40 // positive external trigger (only positive is correct)
	adFuncBSSH  uint32 = 0x20 // 1=with sample & hold
	adFuncBM    uint32 = 0x10 // 1=burst mode
	adFuncBS    uint32 = 0x08 // 1=burst mode start
	adFuncPM    uint32 = 0x04 // 1=post trigger mode
	adFuncAM    uint32 = 0x02 // 1=about trigger mode
	adFuncStart uint32 = 0x01 // 1=trigger start, 0=trigger stop
)

// Bits of the A/D status register (s5933.RegADStat).
const (
	adStatusNFull uint32 = 0x100 // 0=FIFO full (fatal), 1=not full
	adStatusNHalf uint32 = 0x080 // 0=FIFO half full
	adStatusNEpty uint32 = 0x040 // 0=FIFO empty
	adStatusAcmp  uint32 = 0x020
	adStatusDTH   uint32 = 0x010 // 1=external digital trigger seen
	adStatusBover uint32 = 0x008 // 1=burst mode overrun (fatal)
	adStatusADOS  uint32 = 0x004 // 1=A/D over speed (warning)
	adStatusADOR  uint32 = 0x002 // 1=A/D overrun (fatal)
	adStatusADrdy uint32 = 0x001 // 1=conversion result ready
)

// Bits of the interrupt reason/control register (s5933.RegIntSrc on
// read, s5933.RegIntCtrl on write). 1=interrupt occurred / source
// enabled.
const (
	intTimer uint32 = 0x08 // timer interrupt
	intAbout uint32 = 0x04 // about-trigger complete
	intHfull uint32 = 0x02 // A/D FIFO half full
	intDTrg  uint32 = 0x01 // external digital trigger
)

// The S&H phase tag is carried in bit 7 of a scan-queue entry: one
// polarity marks the sample phase, the other the hold phase.
const sshTagBit uint32 = 0x80
