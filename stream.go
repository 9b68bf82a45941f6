package pci9118

import (
	"encoding/binary"
	"fmt"

	"github.com/oklog/ulid/v2"
	zmq "github.com/pebbe/zmq4"
)

// EventFlag marks an acquisition lifecycle event posted to the
// consumer. The completion path sets at most these two.
type EventFlag uint8

const (
	// EventError: acquisition stopped on a hardware or transfer error.
	EventError EventFlag = 1 << iota
	// EventEOA: end of acquisition, the stop condition was reached.
	EventEOA
)

func (f EventFlag) String() string {
	switch f {
	case EventError:
		return "error"
	case EventEOA:
		return "end-of-acquisition"
	case EventError | EventEOA:
		return "error|end-of-acquisition"
	}
	return fmt.Sprintf("EventFlag(0x%x)", uint8(f))
}

// scanChanDepth is how many retired sample blocks may wait for the
// consumer before the producer declares an overrun.
const scanChanDepth = 16

// Stream is the hand-off from the interrupt service path to the
// consumer. Sample blocks and events travel on buffered channels; the
// service path never blocks on either, because blocking there stalls
// the half of the double buffer the card is still filling.
type Stream struct {
	scans    chan []uint16
	events   chan EventFlag
	capBytes uint32
}

// NewStream sizes the consumer buffer. capacityBytes bounds the DMA
// transfer size the way a consumer-side ring buffer would.
func NewStream(capacityBytes uint32) *Stream {
	return &Stream{
		scans:    make(chan []uint16, scanChanDepth),
		events:   make(chan EventFlag, 4),
		capBytes: capacityBytes,
	}
}

// Scans delivers defragmented, normalized sample blocks in acquisition
// order.
func (st *Stream) Scans() <-chan []uint16 { return st.scans }

// Events delivers lifecycle events. An EventError or EventEOA means no
// further sample blocks will arrive for the current run.
func (st *Stream) Events() <-chan EventFlag { return st.events }

func (st *Stream) capacityBytes() uint32 { return st.capBytes }

// writeSamples copies a block to the consumer without blocking. A full
// channel means the consumer fell behind by the whole channel depth;
// the block is lost and the caller must treat the run as overrun.
func (st *Stream) writeSamples(block []uint16) error {
	out := make([]uint16, len(block))
	copy(out, block)
	select {
	case st.scans <- out:
		return nil
	default:
		return fmt.Errorf("consumer overrun: %d sample blocks unread", scanChanDepth)
	}
}

// postEvent delivers an event without blocking. Events are idempotent
// flags, so dropping one on a full channel loses nothing the consumer
// has not already been told.
func (st *Stream) postEvent(f EventFlag) {
	select {
	case st.events <- f:
	default:
	}
}

// scanHeaderSize is the fixed frame-0 size of a published block:
// 16 bytes run ID, 4 bytes sequence number, 4 bytes sample count.
const scanHeaderSize = 24

// PubBlock pairs a sample block with the run it belongs to.
type PubBlock struct {
	RunID   ulid.ULID
	Samples []uint16
}

// PublishScans forwards sample blocks to a ZMQ PUB socket until the
// abort channel closes. Each message is two frames: a fixed header and
// the little-endian sample payload.
func PublishScans(blocks <-chan PubBlock, abort <-chan struct{}, portnum int) error {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return err
	}
	defer pubSocket.Close()
	if err := pubSocket.Bind(fmt.Sprintf("tcp://*:%d", portnum)); err != nil {
		return err
	}

	var sequence uint32
	for {
		select {
		case <-abort:
			return nil
		case block, ok := <-blocks:
			if !ok {
				return nil
			}
			header := make([]byte, scanHeaderSize)
			copy(header[0:16], block.RunID[:])
			binary.LittleEndian.PutUint32(header[16:20], sequence)
			binary.LittleEndian.PutUint32(header[20:24], uint32(len(block.Samples)))
			sequence++

			payload := make([]byte, 2*len(block.Samples))
			for i, s := range block.Samples {
				binary.LittleEndian.PutUint16(payload[2*i:], s)
			}
			if _, err := pubSocket.SendBytes(header, zmq.SNDMORE); err != nil {
				return err
			}
			if _, err := pubSocket.SendBytes(payload, 0); err != nil {
				return err
			}
		}
	}
}
