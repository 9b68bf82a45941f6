package chdb

import "time"

// ActivityMessage is one row in the daemonactivity table: one daemon
// process from start to exit.
type ActivityMessage struct {
	ID        string // ULID of this daemon process
	Hostname  string
	Version   string
	GoVersion string
	Start     time.Time
	End       time.Time
}

// RunMessage is one row in the runs table: one acquisition run.
type RunMessage struct {
	ID     string // ULID of the run
	Board  string // board variant name
	Mode   string // acquisition mode name
	NChan  int32
	NScans int64
	Error  string // empty for a clean stop
	Start  time.Time
	End    time.Time
}
