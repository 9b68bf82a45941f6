package s5933

// Operation registers of the AMCC S5933 PCI controller, as byte offsets
// within the chip's own I/O window (PCI BAR 0). Only the registers the
// PCI-9118 acquisition path touches are listed.
const (
	OpRegMWAR   int64 = 0x24 // master write address register (A2P DMA target)
	OpRegMWTC   int64 = 0x28 // master write transfer count (bytes)
	OpRegINTCSR int64 = 0x38 // interrupt control/status register
	OpRegMCSR   int64 = 0x3c // bus master control/status register
)

// INTCSR bits.
const (
	AnyInt         uint32 = 0x00800000 // some S5933 interrupt is asserted
	MasterAbortInt uint32 = 0x00100000 // bus master abort (fatal transfer error)
	TargetAbortInt uint32 = 0x00200000 // bus target abort (fatal transfer error)
	AIntWriteCompl uint32 = 0x00040000 // A2P write transfer complete

	// IntAckBits written back to INTCSR clear every latched interrupt
	// source; the latched causes must be acked before processing so a
	// concurrent event is not lost.
	IntAckBits uint32 = 0x00ff0000

	// IntAddOnEnable routes add-on (card) interrupts through the bridge
	// to the shared PCI line.
	IntAddOnEnable uint32 = 0x00001f00

	// IntMWTCZero enables the write-transfer-count-reaches-zero
	// interrupt used to detect a completed DMA buffer.
	IntMWTCZero uint32 = 0x02000000
)

// MCSR bits.
const (
	EnA2PTransfers uint32 = 0x00000400 // enable add-on to PCI bus mastering
	ResetA2PFlags  uint32 = 0x04000000 // reset A2P FIFO flags
	A2PHiPriority  uint32 = 0x00000100 // prioritize A2P transfers
)

// Registers of the PCI-9118 itself, as byte offsets within the add-on
// window (PCI BAR 2). Several offsets are shared between one read-side
// and one write-side register.
const (
	RegCNT0      int64 = 0x00 // R/W: 8254 counter 0
	RegCNT1      int64 = 0x04 // R/W: 8254 counter 1
	RegCNT2      int64 = 0x08 // R/W: 8254 counter 2
	RegCNTCtrl   int64 = 0x0c // W:   8254 counter control
	RegADData    int64 = 0x10 // R:   A/D data
	RegDA1       int64 = 0x10 // W:   D/A channel 0
	RegDA2       int64 = 0x14 // W:   D/A channel 1
	RegADStat    int64 = 0x18 // R:   A/D status
	RegADControl int64 = 0x18 // W:   A/D control
	RegDI        int64 = 0x1c // R:   digital inputs
	RegDO        int64 = 0x1c // W:   digital outputs
	RegSoftTrg   int64 = 0x20 // W:   software A/D trigger
	RegGain      int64 = 0x24 // W:   gain/channel scan-queue entry
	RegBurst     int64 = 0x28 // W:   burst length
	RegScanMode  int64 = 0x2c // W:   auto scan mode / queue control
	RegADFunc    int64 = 0x30 // W:   A/D function
	RegFIFOReset int64 = 0x34 // W:   A/D data FIFO reset
	RegIntSrc    int64 = 0x38 // R:   interrupt reason
	RegIntCtrl   int64 = 0x38 // W:   interrupt control
)
