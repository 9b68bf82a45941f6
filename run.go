package pci9118

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gonum.org/v1/gonum/stat"
)

// statCap bounds the per-channel sample history kept for run
// statistics, so an unbounded run does not grow memory forever.
const statCap = 1 << 16

// Run is the metadata and accumulated statistics of one acquisition.
// The ID is a ULID, so runs sort by start time anywhere they are
// logged or stored.
type Run struct {
	ID    ulid.ULID
	Board string
	Mode  AcqMode
	NChan int
	Start time.Time
	End   time.Time

	mu      sync.Mutex
	nextCh  int
	samples [][]float64
}

// ChannelStats is the per-channel summary of a run.
type ChannelStats struct {
	Channel  int
	NSamples int
	Mean     float64
	Stddev   float64
}

// NewRun stamps a fresh run with a time-ordered unique ID.
func NewRun(board string, mode AcqMode, nchan int) *Run {
	now := time.Now()
	entropy := rand.New(rand.NewSource(now.UnixNano()))
	r := &Run{
		ID:      ulid.MustNew(ulid.Timestamp(now), entropy),
		Board:   board,
		Mode:    mode,
		NChan:   nchan,
		Start:   now,
		samples: make([][]float64, nchan),
	}
	return r
}

// Accumulate folds a retired sample block into the per-channel
// statistics. Blocks arrive in acquisition order, so channel
// attribution follows round-robin from wherever the last block ended.
func (r *Run) Accumulate(block []uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.NChan == 0 {
		return
	}
	for _, s := range block {
		ch := r.nextCh
		r.nextCh = (r.nextCh + 1) % r.NChan
		if len(r.samples[ch]) < statCap {
			r.samples[ch] = append(r.samples[ch], float64(s))
		}
	}
}

// Finish stamps the end time. Idempotent.
func (r *Run) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.End.IsZero() {
		r.End = time.Now()
	}
}

// Stats summarizes what was accumulated so far.
func (r *Run) Stats() []ChannelStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChannelStats, r.NChan)
	for ch := range r.samples {
		s := r.samples[ch]
		out[ch] = ChannelStats{Channel: ch, NSamples: len(s)}
		if len(s) > 0 {
			out[ch].Mean = stat.Mean(s, nil)
			out[ch].Stddev = stat.StdDev(s, nil)
		}
	}
	return out
}
