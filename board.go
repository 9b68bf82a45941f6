package pci9118

// AIRange is one input range of the analog front end, in volts.
type AIRange struct {
	Min, Max float64
}

// The gain tables. The first nBipolarRanges entries of each table are
// the bipolar ranges; mixing entries from the two halves in one channel
// list is a hardware error.
var rangesDGHR = []AIRange{
	{-5, 5}, {-2.5, 2.5}, {-1.25, 1.25}, {-0.625, 0.625},
	{0, 10}, {0, 5}, {0, 2.5}, {0, 1.25},
}

var rangesHG = []AIRange{
	{-5, 5}, {-0.5, 0.5}, {-0.05, 0.05}, {-0.005, 0.005},
	{0, 10}, {0, 1}, {0, 0.1}, {0, 0.01},
}

// nBipolarRanges is used for the test on mixture of bipolar/unipolar
// ranges.
const nBipolarRanges = 4

// chanlistLen is the scan queue capacity. Some sources say 256, but
// reality looks like 255.
const chanlistLen = 255

// Board describes one card variant. Immutable; selected at attach time.
type Board struct {
	Name        string    // board name
	DeviceID    uint16    // PCI device ID
	NAIChan     int       // number of A/D channels, single ended
	NAIChanDiff int       // number of A/D channels in differential mode
	MuxAIChan   int       // number of A/D channels with external multiplexer
	NChanlist   int       // scan queue capacity
	NAOChan     int       // number of D/A channels
	AIMaxdata   uint16    // A/D resolution mask
	AOMaxdata   uint16    // D/A resolution mask
	AIRanges    []AIRange // A/D range table
	AINsMin     uint32    // fastest sample period, ns
	AIPacerMin  uint32    // minimal pacer divisor product (c1*c2, or c1 in burst)
	HalfFIFO    int       // size of FIFO/2, samples
}

// Boards lists the supported card variants. All share one PCI device
// ID, so variant selection must come from configuration.
var Boards = []Board{
	{
		Name:        "pci9118dg",
		DeviceID:    0x80d9,
		NAIChan:     16,
		NAIChanDiff: 8,
		MuxAIChan:   256,
		NChanlist:   chanlistLen,
		NAOChan:     2,
		AIMaxdata:   0x0fff,
		AOMaxdata:   0x0fff,
		AIRanges:    rangesDGHR,
		AINsMin:     3000,
		AIPacerMin:  12,
		HalfFIFO:    512,
	},
	{
		Name:        "pci9118hg",
		DeviceID:    0x80d9,
		NAIChan:     16,
		NAIChanDiff: 8,
		MuxAIChan:   256,
		NChanlist:   chanlistLen,
		NAOChan:     2,
		AIMaxdata:   0x0fff,
		AOMaxdata:   0x0fff,
		AIRanges:    rangesHG,
		AINsMin:     3000,
		AIPacerMin:  12,
		HalfFIFO:    512,
	},
	{
		Name:        "pci9118hr",
		DeviceID:    0x80d9,
		NAIChan:     16,
		NAIChanDiff: 8,
		MuxAIChan:   256,
		NChanlist:   chanlistLen,
		NAOChan:     2,
		AIMaxdata:   0xffff,
		AOMaxdata:   0x0fff,
		AIRanges:    rangesDGHR,
		AINsMin:     10000,
		AIPacerMin:  40,
		HalfFIFO:    512,
	},
}

// BoardByName finds a board variant, or nil if the name is unknown.
func BoardByName(name string) *Board {
	for i := range Boards {
		if Boards[i].Name == name {
			return &Boards[i]
		}
	}
	return nil
}
