package pci9118

import (
	"errors"
	"testing"

	"github.com/usnistgov/pci9118/s5933"
)

func TestAttachResetsCard(t *testing.T) {
	nh := s5933.NewNoHardware()
	d, err := Attach(nh, AttachOptions{Board: "pci9118dg"})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer d.Detach()

	// Scan queue reset, outputs recentered, digital lines low.
	scanMode := nh.WritesAt("addon", s5933.RegScanMode)
	if len(scanMode) != 2 || scanMode[0] != 1 || scanMode[1] != 2 {
		t.Errorf("scan mode writes = %v, want [1 2]", scanMode)
	}
	for _, reg := range []int64{s5933.RegDA1, s5933.RegDA2} {
		w := nh.WritesAt("addon", reg)
		if len(w) != 1 || w[0] != 0x7ff {
			t.Errorf("DA writes at %#x = %#x, want mid-scale 0x7ff", reg, w)
		}
	}
	if w := nh.WritesAt("addon", s5933.RegDO); len(w) != 1 || w[0] != 0 {
		t.Errorf("DO writes = %v, want [0]", w)
	}
}

func TestAttachUnknownBoard(t *testing.T) {
	nh := s5933.NewNoHardware()
	if _, err := Attach(nh, AttachOptions{Board: "pci9112"}); err == nil {
		t.Error("unknown board variant should fail")
	}
}

func TestStartAcquisitionProgramsPacer(t *testing.T) {
	nh := s5933.NewNoHardware()
	d, err := Attach(nh, AttachOptions{Board: "pci9118dg"})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer d.Detach()
	nh.ClearJournal()

	cmd := &AcqCommand{
		StartSrc:     TrigNow,
		ScanBeginSrc: TrigFollow,
		ConvertSrc:   TrigTimer,
		ConvertArg:   3000,
		ScanEndArg:   2,
		StopSrc:      TrigNone,
		Chanlist:     list(0, 1),
	}
	if err := d.StartAcquisition(cmd); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}
	defer d.Cancel()

	// Counters 1 and 2 get mode words, then low/high divisor loads whose
	// product realizes the 3000 ns convert period in 250 ns base ticks.
	ctl := nh.WritesAt("addon", s5933.RegCNTCtrl)
	has := func(v uint32) bool {
		for _, w := range ctl {
			if w == v {
				return true
			}
		}
		return false
	}
	if !has(0x74) || !has(0xb4) {
		t.Errorf("counter control writes = %#x, want mode words 0x74 and 0xb4", ctl)
	}
	cnt1 := nh.WritesAt("addon", s5933.RegCNT1)
	cnt2 := nh.WritesAt("addon", s5933.RegCNT2)
	if len(cnt1) != 2 || len(cnt2) != 2 {
		t.Fatalf("divisor writes = %d+%d bytes, want 2+2", len(cnt1), len(cnt2))
	}
	div1 := cnt1[0] | cnt1[1]<<8
	div2 := cnt2[0] | cnt2[1]<<8
	if div1*div2 != 12 {
		t.Errorf("divisor product = %d, want 12 (3000 ns / 250 ns)", div1*div2)
	}

	// The run goes live with the timer trigger, interrupts and the
	// counter gate open.
	adctl := nh.WritesAt("addon", s5933.RegADControl)
	want := adControlTmrTr | adControlInt | adControlSoftG
	if len(adctl) == 0 || adctl[len(adctl)-1] != want {
		t.Errorf("control writes = %#x, want final %#x", adctl, want)
	}

	if d.Run() == nil {
		t.Error("a started acquisition should have run metadata")
	}
}

func TestStartAcquisitionWhileRunning(t *testing.T) {
	nh := s5933.NewNoHardware()
	d, err := Attach(nh, AttachOptions{Board: "pci9118dg"})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer d.Detach()

	cmd := &AcqCommand{
		StartSrc:     TrigNow,
		ScanBeginSrc: TrigFollow,
		ConvertSrc:   TrigTimer,
		ConvertArg:   3000,
		ScanEndArg:   2,
		StopSrc:      TrigNone,
		Chanlist:     list(0, 1),
	}
	if err := d.StartAcquisition(cmd); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}
	second := *cmd
	if err := d.StartAcquisition(&second); err == nil {
		t.Error("starting over a running acquisition should fail")
	}
	if err := d.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := d.Cancel(); err != nil {
		t.Errorf("cancel of an idle session should be a no-op, got %v", err)
	}
}

func TestInternalTrigger(t *testing.T) {
	nh := s5933.NewNoHardware()
	d, err := Attach(nh, AttachOptions{Board: "pci9118dg"})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer d.Detach()

	cmd := &AcqCommand{
		StartSrc:     TrigInt,
		StartArg:     5,
		ScanBeginSrc: TrigFollow,
		ConvertSrc:   TrigTimer,
		ConvertArg:   3000,
		ScanEndArg:   2,
		StopSrc:      TrigNone,
		Chanlist:     list(0, 1),
	}
	if err := d.StartAcquisition(cmd); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}
	defer d.Cancel()
	nh.ClearJournal()

	// Armed but deferred: the pacer must not have been loaded yet, and a
	// mismatched trigger number does not release it.
	if err := d.InternalTrigger(4); err == nil {
		t.Error("mismatched trigger number should fail")
	}
	if w := nh.WritesAt("addon", s5933.RegCNT1); len(w) != 0 {
		t.Errorf("pacer loaded before the trigger: %#x", w)
	}

	if err := d.InternalTrigger(5); err != nil {
		t.Fatalf("InternalTrigger: %v", err)
	}
	if w := nh.WritesAt("addon", s5933.RegCNT1); len(w) != 2 {
		t.Errorf("divisor writes after trigger = %#x, want 2 bytes", w)
	}

	if err := d.InternalTrigger(5); err == nil {
		t.Error("a released trigger cannot fire twice")
	}
}

func TestStartAcquisitionBurstNeedsDMA(t *testing.T) {
	// A bus-mastering slot whose buffer reservation failed: burst and
	// external-scan pacing cannot run on per-sample interrupts.
	d, _ := newTestSession("pci9118dg")
	d.master = true

	cmd := &AcqCommand{
		StartSrc:     TrigNow,
		ScanBeginSrc: TrigTimer,
		ScanBeginArg: 12000,
		ConvertSrc:   TrigNow,
		ConvertArg:   3000,
		ScanEndArg:   2,
		StopSrc:      TrigNone,
		Chanlist:     list(0, 1),
	}
	err := d.StartAcquisition(cmd)
	if !errors.Is(err, ErrIllegalMode) {
		t.Errorf("StartAcquisition = %v, want ErrIllegalMode", err)
	}
	if d.mode != ModeNone {
		t.Error("a rejected start must leave the session idle")
	}
}

func TestDetach(t *testing.T) {
	nh := s5933.NewNoHardware()
	d, err := Attach(nh, AttachOptions{Board: "pci9118dg"})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := d.Detach(); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if err := nh.Close(); err == nil {
		t.Error("Detach should have closed the register windows")
	}
}

func TestAttachSSHPolarity(t *testing.T) {
	nh := s5933.NewNoHardware()
	d, err := Attach(nh, AttachOptions{Board: "pci9118dg", SoftSSHDelay: -5000})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer d.Detach()
	if d.softSSHDelay != 5000 {
		t.Errorf("S&H delay = %d, want 5000", d.softSSHDelay)
	}
	if d.softSSHSample != sshTagBit || d.softSSHHold != 0 {
		t.Error("negative delay should invert the S&H tag polarity")
	}
}
