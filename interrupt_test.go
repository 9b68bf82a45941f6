package pci9118

import (
	"math/bits"
	"testing"

	"github.com/usnistgov/pci9118/s5933"
)

// newTestSession wires a Session to the no-hardware model without the
// service goroutine, so tests drive ServiceInterrupt by hand.
func newTestSession(boardName string) (*Session, *s5933.NoHardware) {
	nh := s5933.NewNoHardware()
	d := &Session{
		hw:     nh,
		board:  BoardByName(boardName),
		stream: NewStream(1 << 20),
	}
	return d, nh
}

func TestOneSampleRunToCompletion(t *testing.T) {
	d, nh := newTestSession("pci9118dg")
	cmd := &AcqCommand{
		StartSrc:     TrigNow,
		ScanBeginSrc: TrigFollow,
		ConvertSrc:   TrigTimer,
		ConvertArg:   3000,
		ScanEndArg:   2,
		StopSrc:      TrigCount,
		StopArg:      1,
		Chanlist:     list(1, 3),
	}
	if err := d.StartAcquisition(cmd); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}

	// Two conversion results, each tagged with its source channel.
	nh.PushSamples(0x0100<<4|1, 0x0200<<4|3)
	nh.SetAddOnReg(s5933.RegIntSrc, intTimer)

	for i := 0; i < 2; i++ {
		if err := d.ServiceInterrupt(); err != nil {
			t.Fatalf("ServiceInterrupt %d: %v", i, err)
		}
	}

	select {
	case block := <-d.Stream().Scans():
		want := []uint16{0x0100, 0x0200}
		if len(block) != 2 || block[0] != want[0] || block[1] != want[1] {
			t.Errorf("scan = %#x, want %#x", block, want)
		}
	default:
		t.Fatal("no scan delivered")
	}
	select {
	case ev := <-d.Stream().Events():
		if ev != EventEOA {
			t.Errorf("event = %s, want end-of-acquisition", ev)
		}
	default:
		t.Fatal("no terminal event delivered")
	}
	if d.mode != ModeNone {
		t.Error("session should be idle after the stop count")
	}
}

func TestOneSampleChannelDropout(t *testing.T) {
	d, nh := newTestSession("pci9118dg")
	cmd := &AcqCommand{
		StartSrc:     TrigNow,
		ScanBeginSrc: TrigFollow,
		ConvertSrc:   TrigTimer,
		ConvertArg:   3000,
		ScanEndArg:   2,
		StopSrc:      TrigNone,
		Chanlist:     list(1, 3),
	}
	if err := d.StartAcquisition(cmd); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}

	// A sample tagged with the wrong channel means the FIFO lost data.
	nh.PushSamples(0x0100<<4 | 7)
	nh.SetAddOnReg(s5933.RegIntSrc, intTimer)
	if err := d.ServiceInterrupt(); err != nil {
		t.Fatalf("ServiceInterrupt: %v", err)
	}

	select {
	case ev := <-d.Stream().Events():
		if ev != EventError|EventEOA {
			t.Errorf("event = %s, want error|end-of-acquisition", ev)
		}
	default:
		t.Fatal("dropout should end the run with an error")
	}
}

func TestHardErrorStopsRun(t *testing.T) {
	d, nh := newTestSession("pci9118dg")
	cmd := &AcqCommand{
		StartSrc:     TrigNow,
		ScanBeginSrc: TrigFollow,
		ConvertSrc:   TrigTimer,
		ConvertArg:   3000,
		ScanEndArg:   2,
		StopSrc:      TrigNone,
		Chanlist:     list(1, 3),
	}
	if err := d.StartAcquisition(cmd); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}

	nh.SetAddOnReg(s5933.RegIntSrc, intTimer)
	nh.SetAddOnReg(s5933.RegADStat, adStatusADOR)
	if err := d.ServiceInterrupt(); err != nil {
		t.Fatalf("ServiceInterrupt: %v", err)
	}

	select {
	case ev := <-d.Stream().Events():
		if ev != EventError|EventEOA {
			t.Errorf("event = %s, want error|end-of-acquisition", ev)
		}
	default:
		t.Fatal("A/D overrun should end the run")
	}
	if d.mode != ModeNone {
		t.Error("session should be idle after a fatal error")
	}
}

func TestOverSpeedWarningKeepsRunning(t *testing.T) {
	d, nh := newTestSession("pci9118dg")
	cmd := &AcqCommand{
		StartSrc:     TrigNow,
		ScanBeginSrc: TrigFollow,
		ConvertSrc:   TrigTimer,
		ConvertArg:   3000,
		ScanEndArg:   2,
		StopSrc:      TrigNone,
		Chanlist:     list(1, 3),
	}
	if err := d.StartAcquisition(cmd); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}

	nh.PushSamples(0x0100<<4 | 1)
	nh.SetAddOnReg(s5933.RegIntSrc, intTimer)
	nh.SetAddOnReg(s5933.RegADStat, adStatusADOS)
	if err := d.ServiceInterrupt(); err != nil {
		t.Fatalf("ServiceInterrupt: %v", err)
	}

	select {
	case ev := <-d.Stream().Events():
		t.Errorf("over-speed is a warning, got event %s", ev)
	default:
	}
	if d.mode == ModeNone {
		t.Error("run should continue after a warning")
	}
	if d.maskErr&adStatusADOS != 0 {
		t.Error("a reported warning should not be reported again")
	}
}

func TestDMARunWithDoubleBuffering(t *testing.T) {
	d, nh := newTestSession("pci9118hr")
	d.master = true
	d.dma = fakePair(4096, 4096)

	cmd := &AcqCommand{
		StartSrc:     TrigNow,
		ScanBeginSrc: TrigFollow,
		ConvertSrc:   TrigTimer,
		ConvertArg:   10000,
		ScanEndArg:   2,
		StopSrc:      TrigCount,
		StopArg:      4,
		Chanlist:     list(0, 1),
	}
	if err := d.StartAcquisition(cmd); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}
	if !d.usedma {
		t.Fatal("run should use DMA")
	}
	// Whole bounded run fits buffer 0: 4 scans of 2 samples.
	if got := d.dma.bufs[0].useSize; got != 16 {
		t.Fatalf("buffer 0 use size = %d, want 16", got)
	}

	// Simulate the card having filled buffer 0 with 8 samples.
	for i := 0; i < 8; i++ {
		d.dma.bufs[0].words[i] = bits.ReverseBytes16(uint16(1000+i) ^ 0x8000)
	}
	nh.ClearJournal()
	nh.SetOpReg(s5933.OpRegINTCSR, s5933.AnyInt|s5933.AIntWriteCompl)
	if err := d.ServiceInterrupt(); err != nil {
		t.Fatalf("ServiceInterrupt: %v", err)
	}

	// The idle buffer must have been armed before the block retired.
	mwar := nh.WritesAt("op", s5933.OpRegMWAR)
	if len(mwar) == 0 || mwar[0] != d.dma.bufs[1].busAddr {
		t.Errorf("MWAR writes = %#x, want buffer 1 at %#x first", mwar, d.dma.bufs[1].busAddr)
	}

	select {
	case block := <-d.Stream().Scans():
		if len(block) != 8 || block[0] != 1000 || block[7] != 1007 {
			t.Errorf("block = %v, want 1000..1007", block)
		}
	default:
		t.Fatal("no block delivered")
	}
	select {
	case ev := <-d.Stream().Events():
		if ev != EventEOA {
			t.Errorf("event = %s, want end-of-acquisition", ev)
		}
	default:
		t.Fatal("run of 4 scans should have ended")
	}
}

func TestDMAMasterAbort(t *testing.T) {
	d, nh := newTestSession("pci9118hr")
	d.master = true
	d.dma = fakePair(4096, 4096)

	cmd := &AcqCommand{
		StartSrc:     TrigNow,
		ScanBeginSrc: TrigFollow,
		ConvertSrc:   TrigTimer,
		ConvertArg:   10000,
		ScanEndArg:   2,
		StopSrc:      TrigNone,
		Chanlist:     list(0, 1),
	}
	if err := d.StartAcquisition(cmd); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}

	nh.SetOpReg(s5933.OpRegINTCSR, s5933.AnyInt|s5933.MasterAbortInt)
	if err := d.ServiceInterrupt(); err != nil {
		t.Fatalf("ServiceInterrupt: %v", err)
	}
	select {
	case ev := <-d.Stream().Events():
		if ev != EventError|EventEOA {
			t.Errorf("event = %s, want error|end-of-acquisition", ev)
		}
	default:
		t.Fatal("master abort should end the run")
	}
}

func TestInterruptNotOurs(t *testing.T) {
	d, nh := newTestSession("pci9118dg")
	nh.SetAddOnReg(s5933.RegIntSrc, 0)
	nh.SetOpReg(s5933.OpRegINTCSR, 0)
	if err := d.ServiceInterrupt(); err != nil {
		t.Fatalf("ServiceInterrupt: %v", err)
	}
	if writes := nh.WritesAt("op", s5933.OpRegINTCSR); len(writes) != 0 {
		t.Errorf("a foreign interrupt must not be acked, got writes %#x", writes)
	}
}

func TestExternalScanRetrigger(t *testing.T) {
	d, nh := newTestSession("pci9118hr")
	d.master = true
	d.dma = fakePair(4096, 4096)

	cmd := &AcqCommand{
		StartSrc:     TrigNow,
		ScanBeginSrc: TrigExt,
		ConvertSrc:   TrigTimer,
		ConvertArg:   10000,
		ScanEndArg:   2,
		StopSrc:      TrigNone,
		Chanlist:     list(0, 1),
	}
	if err := d.StartAcquisition(cmd); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}
	if d.mode != ModeExternalScan {
		t.Fatalf("mode = %s, want external-scan", d.mode)
	}

	nh.ClearJournal()
	nh.SetOpReg(s5933.OpRegINTCSR, s5933.AnyInt|s5933.AIntWriteCompl)
	if err := d.ServiceInterrupt(); err != nil {
		t.Fatalf("ServiceInterrupt: %v", err)
	}

	// The buffer switch must re-arm counter 0 for the next scan block.
	cnt0 := nh.WritesAt("addon", s5933.RegCNT0)
	arm := d.dma.bufs[1].busAddr
	if len(cnt0) != 2 || cnt0[0] != (arm>>1)&0xff || cnt0[1] != (arm>>9)&0xff {
		t.Errorf("CNT0 writes = %#x, want reload from %#x", cnt0, arm)
	}
}
