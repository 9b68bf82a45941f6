package pci9118

import (
	"log"
	"os"
	"time"
)

// Portnumbers structs can contain all TCP port numbers used by the
// pci9118 daemon.
type Portnumbers struct {
	RPC      int
	Status   int
	ScanData int
}

// Ports globally holds all TCP port numbers used by the pci9118 daemon.
var Ports Portnumbers

func setPortnumbers(base int) {
	Ports.RPC = base
	Ports.Status = base + 1
	Ports.ScanData = base + 2
}

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Date    string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.3.1",
	Githash: "no git hash computed",
	Date:    "no build date computed",
}

// StartTime is a global holding the time init() was run
var StartTime time.Time

// ProblemLogger will log warning messages to a file
var ProblemLogger *log.Logger

func init() {
	setPortnumbers(5590)
	StartTime = time.Now()

	// The daemon main will override this, but at least initialize with a
	// sensible value
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
}
