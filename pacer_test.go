package pci9118

import "testing"

func TestCascadeDivisors(t *testing.T) {
	tests := []struct {
		periodNS     uint32
		roundNearest bool
		realized     uint32
	}{
		{3000, false, 3000}, // exact: 2*6*250
		{1000, false, 1000}, // exact: 2*2*250
		{500, false, 1000},  // below the floor of divisor 2*2
		{2900, false, 3000}, // 11 counts is not a product of two divisors
		{2900, true, 3000},  // nearest is still up
		{2600, false, 3000}, // rounds up
		{2600, true, 2500},  // nearest is down
		{250000, false, 250000},
	}
	for _, test := range tests {
		div1, div2, realized := cascadeDivisors(test.periodNS, test.roundNearest)
		if realized != test.realized {
			t.Errorf("cascadeDivisors(%d, %v) realized %d, want %d",
				test.periodNS, test.roundNearest, realized, test.realized)
		}
		if div1*div2*pacerOscNS != realized {
			t.Errorf("cascadeDivisors(%d, %v) = (%d, %d): product %d ns != realized %d ns",
				test.periodNS, test.roundNearest, div1, div2, div1*div2*pacerOscNS, realized)
		}
		if div1 < minDivisor || div2 < minDivisor {
			t.Errorf("cascadeDivisors(%d, %v) = (%d, %d): divisor below hardware minimum",
				test.periodNS, test.roundNearest, div1, div2)
		}
		if !test.roundNearest && realized < test.periodNS {
			t.Errorf("cascadeDivisors(%d, false) realized %d ns, shorter than requested",
				test.periodNS, realized)
		}
	}
}

func TestComputeDivisorsConvertTimer(t *testing.T) {
	d := &Session{board: BoardByName("pci9118dg")}
	cmd := &AcqCommand{ConvertSrc: TrigTimer, ConvertArg: 1000}

	div1, div2 := d.computeDivisors(ModeConvertTimer, cmd, 2, 0)
	if cmd.ConvertArg != 3000 {
		t.Errorf("ConvertArg below the 3 µs floor should be clamped, got %d", cmd.ConvertArg)
	}
	if div1*div2*pacerOscNS != cmd.ConvertArg {
		t.Errorf("divisors (%d, %d) do not realize ConvertArg %d", div1, div2, cmd.ConvertArg)
	}
}

func TestComputeDivisorsBurst(t *testing.T) {
	d := &Session{board: BoardByName("pci9118dg")}

	cmd := &AcqCommand{ConvertSrc: TrigTimer, ConvertArg: 3000, ScanBeginArg: 60000}
	div1, div2 := d.computeDivisors(ModeBurst, cmd, 4, 0)
	if div1 != 12 || div2 != 20 {
		t.Errorf("burst divisors = (%d, %d), want (12, 20)", div1, div2)
	}
	if cmd.ConvertArg != 3000 || cmd.ScanBeginArg != 60000 {
		t.Errorf("realized periods = (%d, %d), want (3000, 60000)",
			cmd.ConvertArg, cmd.ScanBeginArg)
	}

	// A short scan period gets stretched to fit the burst.
	cmd = &AcqCommand{ConvertSrc: TrigTimer, ConvertArg: 3000, ScanBeginArg: 3000}
	div1, div2 = d.computeDivisors(ModeBurst, cmd, 8, 0)
	if div2 != 8 {
		t.Errorf("scan divisor = %d, want the realized scan length 8", div2)
	}
	if cmd.ScanBeginArg != div1*div2*pacerOscNS {
		t.Errorf("realized ScanBeginArg %d != %d", cmd.ScanBeginArg, div1*div2*pacerOscNS)
	}

	// The onboard S&H pulse needs two extra counts per burst.
	cmd = &AcqCommand{ConvertSrc: TrigNow, ConvertArg: 3000, ScanBeginArg: 3000}
	_, div2 = d.computeDivisors(ModeBurst, cmd, 8, 0)
	if div2 != 10 {
		t.Errorf("scan divisor with BSSH = %d, want 10", div2)
	}
}
