package pci9118

import "fmt"

// TrigSrc identifies a trigger/timing source. Sources are bits so that
// a set of allowed sources is a simple mask.
type TrigSrc uint32

// The trigger sources the acquisition engine understands.
const (
	TrigNone   TrigSrc = 0x01 // never trigger (stop source only)
	TrigNow    TrigSrc = 0x02 // trigger immediately
	TrigFollow TrigSrc = 0x04 // scan begins when the previous one ends
	TrigTimer  TrigSrc = 0x08 // paced by the 8254 cascade
	TrigCount  TrigSrc = 0x10 // stop after a count
	TrigExt    TrigSrc = 0x20 // external trigger pin
	TrigInt    TrigSrc = 0x40 // deferred software-internal trigger
)

func (src TrigSrc) String() string {
	switch src {
	case TrigNone:
		return "none"
	case TrigNow:
		return "now"
	case TrigFollow:
		return "follow"
	case TrigTimer:
		return "timer"
	case TrigCount:
		return "count"
	case TrigExt:
		return "ext"
	case TrigInt:
		return "int"
	}
	return fmt.Sprintf("TrigSrc(0x%x)", uint32(src))
}

// isUnique reports whether exactly one source bit is set.
func (src TrigSrc) isUnique() bool {
	return src != 0 && src&(src-1) == 0
}

// ChanSpec is one entry of a channel list: which input, at which gain,
// with which reference mode.
type ChanSpec struct {
	Chan  int  // channel number
	Range int  // index into the board's range table
	Diff  bool // differential reference (vs single-ended)
}

// bipolar reports whether the entry selects a bipolar range.
func (cs ChanSpec) bipolar() bool { return cs.Range < nBipolarRanges }

// AcqCommand is a structured acquisition request, as handed over by the
// command-dispatch collaborator. CheckCommand may correct arguments in
// place, the way the hardware would realize them.
type AcqCommand struct {
	StartSrc     TrigSrc
	StartArg     uint32 // internal trigger number for TrigInt, else 0
	ScanBeginSrc TrigSrc
	ScanBeginArg uint32 // scan period, ns
	ConvertSrc   TrigSrc
	ConvertArg   uint32 // convert period, ns
	ScanEndArg   uint32 // samples per scan; multiple of len(Chanlist)
	StopSrc      TrigSrc
	StopArg      uint32 // scan count for TrigCount, else 0
	Chanlist     []ChanSpec
	WakeEOS      bool // wake the consumer at every end of scan
	RoundNearest bool // round pacer divisors to nearest, not up
}

// CommandError reports which validation phase a command failed,
// matching the fixed precedence order of the five cmdtest steps.
type CommandError struct {
	Step   int
	Reason string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command invalid at step %d: %s", e.Step, e.Reason)
}

// The cfc-style argument checkers return true when they had to correct
// the value.

func checkTrigSrc(src *TrigSrc, allowed TrigSrc) bool {
	orig := *src
	*src &= allowed
	return *src == 0 || *src != orig
}

func checkArgIs(arg *uint32, want uint32) bool {
	if *arg != want {
		*arg = want
		return true
	}
	return false
}

func checkArgMin(arg *uint32, min uint32) bool {
	if *arg < min {
		*arg = min
		return true
	}
	return false
}

func checkArgMax(arg *uint32, max uint32) bool {
	if *arg > max {
		*arg = max
		return true
	}
	return false
}

// CheckCommand validates an acquisition command against the board's
// capabilities, correcting out-of-range arguments to the nearest legal
// value. It touches no hardware. On failure the returned CommandError
// carries the step number (1..5) of the first phase that failed.
func (d *Session) CheckCommand(cmd *AcqCommand) *CommandError {
	board := d.board

	// Step 1: check if triggers are trivially valid.
	err := false
	err = checkTrigSrc(&cmd.StartSrc, TrigNow|TrigExt|TrigInt) || err

	flags := TrigFollow
	if d.master {
		flags |= TrigTimer | TrigExt
	}
	err = checkTrigSrc(&cmd.ScanBeginSrc, flags) || err

	flags = TrigTimer | TrigExt
	if d.master {
		flags |= TrigNow
	}
	err = checkTrigSrc(&cmd.ConvertSrc, flags) || err
	err = checkTrigSrc(&cmd.StopSrc, TrigCount|TrigNone|TrigExt) || err
	if err {
		return &CommandError{1, "unsupported trigger source"}
	}

	// Step 2a: make sure trigger sources are unique.
	err = !cmd.StartSrc.isUnique() || !cmd.ScanBeginSrc.isUnique() ||
		!cmd.ConvertSrc.isUnique() || !cmd.StopSrc.isUnique()

	// Step 2b: and mutually compatible.
	if cmd.StartSrc == TrigExt && cmd.ScanBeginSrc == TrigExt {
		err = true
	}
	if cmd.StartSrc == TrigInt && cmd.ScanBeginSrc == TrigInt {
		err = true
	}
	if (cmd.ScanBeginSrc == TrigTimer || cmd.ScanBeginSrc == TrigExt) &&
		!(cmd.ConvertSrc == TrigTimer || cmd.ConvertSrc == TrigNow) {
		err = true
	}
	if cmd.ScanBeginSrc == TrigFollow &&
		!(cmd.ConvertSrc == TrigTimer || cmd.ConvertSrc == TrigExt) {
		err = true
	}
	if cmd.StopSrc == TrigExt && cmd.ScanBeginSrc == TrigExt {
		err = true
	}
	if err {
		return &CommandError{2, "incompatible trigger sources"}
	}

	// Step 3: check if arguments are trivially valid.
	switch cmd.StartSrc {
	case TrigNow, TrigExt:
		err = checkArgIs(&cmd.StartArg, 0) || err
	case TrigInt:
		// StartArg is the internal trigger number (any value).
	}

	if cmd.ScanBeginSrc == TrigFollow || cmd.ScanBeginSrc == TrigExt {
		err = checkArgIs(&cmd.ScanBeginArg, 0) || err
	}

	// A one-channel-per-scan timed scan is really a convert-paced run.
	if cmd.ScanBeginSrc == TrigTimer && cmd.ConvertSrc == TrigTimer &&
		cmd.ScanEndArg == 1 {
		cmd.ScanBeginSrc = TrigFollow
		cmd.ConvertArg = cmd.ScanBeginArg
		cmd.ScanBeginArg = 0
	}

	if cmd.ScanBeginSrc == TrigTimer {
		err = checkArgMin(&cmd.ScanBeginArg, board.AINsMin) || err
	}
	if cmd.ScanBeginSrc == TrigExt && cmd.ScanBeginArg != 0 {
		cmd.ScanBeginArg = 0
		err = true
		err = checkArgMax(&cmd.ScanEndArg, 65535) || err
	}

	if cmd.ConvertSrc == TrigTimer || cmd.ConvertSrc == TrigNow {
		err = checkArgMin(&cmd.ConvertArg, board.AINsMin) || err
	}
	if cmd.ConvertSrc == TrigExt {
		err = checkArgIs(&cmd.ConvertArg, 0) || err
	}

	if cmd.StopSrc == TrigCount {
		err = checkArgMin(&cmd.StopArg, 1) || err
	} else {
		err = checkArgIs(&cmd.StopArg, 0) || err
	}

	nChan := uint32(len(cmd.Chanlist))
	if nChan < 1 {
		err = true
		nChan = 1
	}
	err = checkArgMin(&cmd.ScanEndArg, nChan) || err
	if cmd.ScanEndArg%nChan != 0 {
		cmd.ScanEndArg = nChan * (cmd.ScanEndArg / nChan)
		err = true
	}
	if err {
		return &CommandError{3, "argument out of range"}
	}

	// Step 4: fix up any arguments to what the pacer can realize.
	if cmd.ScanBeginSrc == TrigTimer {
		arg := cmd.ScanBeginArg
		_, _, arg = cascadeDivisors(arg, cmd.RoundNearest)
		err = checkArgIs(&cmd.ScanBeginArg, arg) || err
	}

	if cmd.ConvertSrc == TrigTimer || cmd.ConvertSrc == TrigNow {
		arg := cmd.ConvertArg
		_, _, arg = cascadeDivisors(arg, cmd.RoundNearest)
		err = checkArgIs(&cmd.ConvertArg, arg) || err

		if cmd.ScanBeginSrc == TrigTimer && cmd.ConvertSrc == TrigNow {
			if cmd.ConvertArg == 0 {
				arg = board.AINsMin * (cmd.ScanEndArg + 2)
			} else {
				arg = cmd.ConvertArg * uint32(len(cmd.Chanlist))
			}
			err = checkArgMin(&cmd.ScanBeginArg, arg) || err
		}
	}
	if err {
		return &CommandError{4, "argument below hardware minimum"}
	}

	// Step 5: the channel list itself.
	if cmd.Chanlist != nil {
		if cerr := d.checkChanlist(cmd.Chanlist, 0, 0); cerr != nil {
			return &CommandError{5, cerr.Error()}
		}
	}

	return nil
}
