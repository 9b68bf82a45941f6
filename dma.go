package pci9118

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"unsafe"

	sysctl "github.com/lorenzosaino/go-sysctl"

	"github.com/usnistgov/pci9118/s5933"
)

// The S5933 bus master needs physically contiguous, 32-bit addressable
// memory. We get it from hugetlbfs: one huge page is contiguous by
// construction, and mlock pins it so the physical address stays valid
// for the life of the mapping.
const (
	hugePageSize = 2 << 20 // bytes per huge page
	hugePagePath = "/dev/hugepages"
)

// DMABuffer is one bus-master target buffer: a pinned huge-page mapping
// plus its physical (bus) address.
type DMABuffer struct {
	words   []uint16 // the mapping, viewed as samples
	raw     []byte   // the mapping itself, kept for Munmap
	busAddr uint32   // physical address programmed into MWAR
	size    uint32   // allocated bytes
	useSize uint32   // bytes per transfer in the current run
}

// allocDMABuffer maps and pins one huge page and resolves its physical
// address through /proc/self/pagemap.
func allocDMABuffer(tag string) (*DMABuffer, error) {
	f, err := os.CreateTemp(hugePagePath, "pci9118-dma-"+tag+"-")
	if err != nil {
		return nil, fmt.Errorf("could not create hugetlbfs file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	raw, err := syscall.Mmap(int(f.Fd()), 0, hugePageSize,
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("could not mmap huge page: %w", err)
	}
	if err := syscall.Mlock(raw); err != nil {
		syscall.Munmap(raw)
		return nil, fmt.Errorf("could not pin DMA buffer: %w", err)
	}
	raw[0] = 0 // fault the page in before asking for its frame

	phys, err := physAddr(raw)
	if err != nil {
		syscall.Munmap(raw)
		return nil, err
	}
	if phys+hugePageSize > 1<<32 {
		syscall.Munmap(raw)
		return nil, fmt.Errorf("DMA buffer at 0x%x is beyond the card's 32-bit reach", phys)
	}

	words := unsafe.Slice((*uint16)(unsafe.Pointer(&raw[0])), hugePageSize/2)
	return &DMABuffer{
		words:   words,
		raw:     raw,
		busAddr: uint32(phys),
		size:    hugePageSize,
	}, nil
}

// physAddr reads the page frame number of a mapped page from the
// kernel's pagemap interface.
func physAddr(mapping []byte) (uint64, error) {
	pagemap, err := os.Open("/proc/self/pagemap")
	if err != nil {
		return 0, err
	}
	defer pagemap.Close()

	pageSize := uint64(os.Getpagesize())
	vaddr := uint64(uintptr(unsafe.Pointer(&mapping[0])))
	var entryBuf [8]byte
	if _, err := pagemap.ReadAt(entryBuf[:], int64(vaddr/pageSize*8)); err != nil {
		return 0, fmt.Errorf("could not read pagemap: %w", err)
	}
	entry := binary.LittleEndian.Uint64(entryBuf[:])
	if entry&(1<<63) == 0 {
		return 0, fmt.Errorf("DMA page not present in pagemap")
	}
	pfn := entry & (1<<55 - 1)
	if pfn == 0 {
		return 0, fmt.Errorf("pagemap hides frame numbers (need CAP_SYS_ADMIN)")
	}
	return pfn*pageSize + vaddr%pageSize, nil
}

func (b *DMABuffer) release() {
	if b.raw != nil {
		syscall.Munmap(b.raw)
		b.raw = nil
		b.words = nil
	}
}

// dmaPair is the double-buffer set the completion handler flips
// between. With only one buffer allocated the same buffer is re-armed
// after each transfer instead.
type dmaPair struct {
	bufs   [2]*DMABuffer
	double bool
	actbuf int // buffer the card is currently filling
}

// allocDMAPair reserves the two bus-master buffers. One buffer is
// enough to run; zero means DMA is off for this session.
func allocDMAPair() (*dmaPair, error) {
	pair := &dmaPair{}
	for i := 0; i < 2; i++ {
		buf, err := allocDMABuffer(strconv.Itoa(i))
		if err != nil {
			if i == 0 {
				return nil, err
			}
			ProblemLogger.Printf("second DMA buffer unavailable, using single buffering: %v", err)
			break
		}
		pair.bufs[i] = buf
	}
	pair.double = pair.bufs[1] != nil
	return pair, nil
}

func (p *dmaPair) release() {
	for _, b := range p.bufs {
		if b != nil {
			b.release()
		}
	}
}

// checkDMAPrerequisites verifies the kernel can satisfy the huge-page
// allocations before we try. A missing reservation is the usual reason
// attach-time DMA setup fails on a fresh machine.
func checkDMAPrerequisites() error {
	want := 2
	v, err := sysctl.Get("vm.nr_hugepages")
	if err != nil {
		return fmt.Errorf("could not read vm.nr_hugepages: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("unparseable vm.nr_hugepages value %q: %w", v, err)
	}
	if n < want {
		return fmt.Errorf("vm.nr_hugepages=%d, need at least %d for double-buffered DMA", n, want)
	}
	if v, err := sysctl.Get("vm.max_map_count"); err == nil {
		if m, err := strconv.Atoi(v); err == nil && m < 1024 {
			ProblemLogger.Printf("vm.max_map_count=%d is unusually low", m)
		}
	}
	return nil
}

// computeDMASizes decides how many bytes each DMA transfer moves.
// Constraints, in priority order: fit the consumer buffer; one scan per
// transfer when the consumer wants per-scan wakeups; whole scans per
// transfer otherwise; and for bounded runs, no samples past the stop
// count. WakeEOS is degraded (with a logged warning) when a single
// scan does not fit a buffer. Returns the possibly-degraded wakeEOS.
func (d *Session) computeDMASizes(wakeEOS bool) bool {
	scanBytes := d.realScanLen << 1
	streamBytes := d.stream.capacityBytes()

	var dmalen [2]uint32
	nbufs := 1
	if d.dma.double {
		nbufs = 2
	}
	for i := 0; i < nbufs; i++ {
		dmalen[i] = d.dma.bufs[i].size
		if dmalen[i] > streamBytes {
			dmalen[i] = streamBytes &^ 3 // align to 32 bits, down
		}
		if wakeEOS {
			if dmalen[i] < scanBytes {
				wakeEOS = false
				ProblemLogger.Printf("DMA buffer %d too short for per-scan wakeup (%d < %d)",
					i, dmalen[i], scanBytes)
			} else {
				dmalen[i] = scanBytes // one scan per transfer
				if dmalen[i] < 4 {
					dmalen[i] = 4
				}
			}
		}
	}

	if !wakeEOS {
		for i := 0; i < nbufs; i++ {
			whole := (dmalen[i] / scanBytes * scanBytes) &^ 3
			if whole != 0 { // a scan longer than the buffer keeps the raw size
				dmalen[i] = whole
			}
		}
		if !d.neverending {
			// Shrink so a bounded run ends exactly on a transfer edge.
			total := scanBytes * d.cmd.StopArg
			if dmalen[0] > total {
				dmalen[0] = total &^ 3
			} else if nbufs == 2 && dmalen[1] > total-dmalen[0] {
				dmalen[1] = (total - dmalen[0]) &^ 3
			}
		}
	}

	d.dma.actbuf = 0
	d.dma.bufs[0].useSize = dmalen[0]
	if d.dma.double {
		d.dma.bufs[1].useSize = dmalen[1]
	}
	return wakeEOS
}

// armDMA programs the bridge for the first transfer: stop any running
// transfer, point the master write at buffer 0, enable the
// write-complete interrupt, and turn bus mastering on.
func (d *Session) armDMA() error {
	hw := d.hw
	mcsr, err := hw.ReadOp(s5933.OpRegMCSR)
	if err != nil {
		return err
	}
	if err := hw.WriteOp(s5933.OpRegMCSR, mcsr&^s5933.EnA2PTransfers); err != nil {
		return err
	}
	if err := hw.WriteOp(s5933.OpRegMWAR, d.dma.bufs[0].busAddr); err != nil {
		return err
	}
	if err := hw.WriteOp(s5933.OpRegMWTC, d.dma.bufs[0].useSize); err != nil {
		return err
	}
	if err := hw.WriteOp(s5933.OpRegINTCSR, s5933.AIntWriteCompl); err != nil {
		return err
	}
	mcsr, err = hw.ReadOp(s5933.OpRegMCSR)
	if err != nil {
		return err
	}
	mcsr |= s5933.ResetA2PFlags | s5933.A2PHiPriority | s5933.EnA2PTransfers
	if err := hw.WriteOp(s5933.OpRegMCSR, mcsr); err != nil {
		return err
	}
	intcsr, err := hw.ReadOp(s5933.OpRegINTCSR)
	if err != nil {
		return err
	}
	return hw.WriteOp(s5933.OpRegINTCSR, intcsr|s5933.EnA2PTransfers)
}

// defragment compacts a raw DMA block in place, dropping the padding
// samples around every scan. The card streams the padded scan layout
// continuously, so a block may begin and end mid-scan; the modulo
// position carried on the session keeps the scan phase across blocks.
// Returns the number of real samples kept.
func (d *Session) defragment(buf []uint16) int {
	startPos := d.addFront
	stopPos := d.addFront + len(d.chanlist)
	rawScanLen := d.addFront + len(d.chanlist) + d.addBack

	j := 0
	for i := 0; i < len(buf); i++ {
		if d.actDMAPos >= startPos && d.actDMAPos < stopPos {
			buf[j] = buf[i]
			j++
		}
		d.actDMAPos++
		d.actDMAPos %= rawScanLen
	}
	return j
}

// moveBlockFromDMA retires one completed DMA transfer: defragment,
// normalize, advance the scan bookkeeping, and hand the samples to the
// consumer stream.
func (d *Session) moveBlockFromDMA(buf []uint16) error {
	n := d.defragment(buf)
	block := buf[:n]
	d.mungeSamples(block, true)

	d.actScan += (d.curChan + uint32(n)) / d.cmd.ScanEndArg
	d.curChan = (d.curChan + uint32(n)) % d.cmd.ScanEndArg

	return d.stream.writeSamples(block)
}
