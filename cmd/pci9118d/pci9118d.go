package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/oklog/ulid/v2"
	"github.com/sbinet/npyio"
	"github.com/spf13/viper"
	"github.com/usnistgov/pci9118"
	"github.com/usnistgov/pci9118/chdb"
	"github.com/usnistgov/pci9118/s5933"
)

func pingDatabase() error {
	return chdb.PingServer()
}

// openDevice picks the register interface: real card from the config's
// PCI slot and UIO number, or the software model for a dry run.
func openDevice() (s5933.Registers, error) {
	if viper.GetBool("device.nohardware") {
		fmt.Println("Running against the no-hardware card model")
		return s5933.NewNoHardware(), nil
	}
	slot := viper.GetString("device.slot")
	if slot == "" {
		return nil, fmt.Errorf("device.slot is not configured (e.g. 0000:03:0a.0)")
	}
	return s5933.Open(slot, viper.GetInt("device.uio"))
}

// runDaemon attaches the card and serves it until the RPC listener
// dies: sample blocks flow from the session stream to the ZMQ
// publisher, the run statistics, the optional .npy capture file, and
// the run database.
func runDaemon() error {
	hw, err := openDevice()
	if err != nil {
		return err
	}

	opts := pci9118.AttachOptions{
		Board:        viper.GetString("device.board"),
		Master:       viper.GetBool("device.master"),
		ExtMux:       viper.GetInt("device.extmux"),
		SoftSSHDelay: viper.GetInt("device.softsshdelay"),
		HardErrMask:  uint32(viper.GetInt("device.harderrmask")),
		StreamBytes:  uint32(viper.GetInt("device.streambytes")),
	}
	if viper.GetBool("Verbose") {
		spew.Dump(opts)
	}

	session, err := pci9118.Attach(hw, opts)
	if err != nil {
		return err
	}
	defer session.Detach()
	log.Printf("attached %s\n", session.Board().Name)

	abort := make(chan struct{})
	defer close(abort)

	hostname, _ := os.Hostname()
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	activity := &chdb.ActivityMessage{
		ID:        ulid.MustNew(ulid.Now(), entropy).String(),
		Hostname:  hostname,
		Version:   pci9118.Build.Version,
		GoVersion: runtime.Version(),
		Start:     time.Now(),
	}
	db := chdb.StartConnection(activity, abort)

	blocksToPub := make(chan pci9118.PubBlock, 16)
	go func() {
		if err := pci9118.PublishScans(blocksToPub, abort, pci9118.Ports.ScanData); err != nil {
			pci9118.ProblemLogger.Printf("scan publisher died: %v", err)
		}
	}()
	go consumeStream(session, blocksToPub, db, abort)

	pci9118.RunRPCServer(session, pci9118.Ports.RPC)
	return nil
}

// consumeStream drains the session's sample and event channels,
// fanning blocks out to statistics, the publisher and the capture
// file, and closing out runs on their terminal event.
func consumeStream(session *pci9118.Session, blocksToPub chan<- pci9118.PubBlock,
	db *chdb.Connection, abort <-chan struct{}) {
	stream := session.Stream()
	var capture []uint16
	var dbRun *chdb.RunMessage

	for {
		select {
		case <-abort:
			return

		case block := <-stream.Scans():
			run := session.Run()
			if run == nil {
				continue
			}
			if dbRun == nil || dbRun.ID != run.ID.String() {
				dbRun = &chdb.RunMessage{
					ID:    run.ID.String(),
					Board: run.Board,
					Mode:  run.Mode.String(),
					NChan: int32(run.NChan),
					Start: run.Start,
				}
				db.RecordRun(dbRun)
				capture = capture[:0]
			}
			run.Accumulate(block)
			select {
			case blocksToPub <- pci9118.PubBlock{RunID: run.ID, Samples: block}:
			default: // publisher fell behind, the block is still counted
			}
			if viper.GetBool("capture.enable") {
				capture = append(capture, block...)
			}

		case ev := <-stream.Events():
			run := session.Run()
			if run == nil {
				continue
			}
			run.Finish()
			log.Printf("run %s ended: %s\n", run.ID, ev)
			for _, cs := range run.Stats() {
				log.Printf("  chan %d: n=%d mean=%.1f stddev=%.1f\n",
					cs.Channel, cs.NSamples, cs.Mean, cs.Stddev)
			}
			if dbRun != nil {
				if ev&pci9118.EventError != 0 {
					dbRun.Error = ev.String()
				}
				db.FinishRun(dbRun)
				dbRun = nil
			}
			if viper.GetBool("capture.enable") && len(capture) > 0 {
				if err := writeCapture(run.ID, capture); err != nil {
					pci9118.ProblemLogger.Printf("could not write capture file: %v", err)
				}
				capture = capture[:0]
			}
		}
	}
}

// writeCapture stores one run's samples as a NumPy array file named by
// the run ID.
func writeCapture(runID ulid.ULID, samples []uint16) error {
	dir := viper.GetString("capture.dir")
	if dir == "" {
		dir = "."
	}
	name := filepath.Join(dir, fmt.Sprintf("run-%s.npy", runID))
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := npyio.Write(f, samples); err != nil {
		return err
	}
	log.Printf("captured %d samples to %s\n", len(samples), name)
	return nil
}
