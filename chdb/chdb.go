// Package chdb records acquisition runs in a ClickHouse database.
// The connection is optional: without credentials, every recorder
// method is a no-op, so the daemon works identically with or without
// a database in reach.
package chdb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

const databaseName = "pci9118" // official SQL name of the database

// Connection is one daemon's link to the database plus the channels
// that serialize inserts behind a single goroutine.
type Connection struct {
	conn          clickhouse.Conn
	err           error
	activityEntry *ActivityMessage
	runmsg        chan *RunMessage
	sync.WaitGroup
}

// IsConnected reports whether inserts will actually reach a server.
func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// PingServer verifies the database is reachable with the configured
// credentials and prints its version.
func PingServer() error {
	db := createConnection()
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected")
	}
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	db.conn.Close()
	return nil
}

// StartConnection opens the database, logs the daemon activity row,
// and starts the insert goroutine. It never fails: a missing or
// unreachable database yields a disconnected no-op recorder.
func StartConnection(activity *ActivityMessage, abort <-chan struct{}) *Connection {
	db := createConnection()
	db.activityEntry = activity
	db.logActivity()
	go db.handleConnection(abort)
	return db
}

// DummyConnection returns a recorder that records nothing, for tests.
func DummyConnection() *Connection {
	db := &Connection{}
	db.Add(1)
	return db
}

func createConnection() *Connection {
	db := &Connection{}
	dbUser := os.Getenv("PCI9118_DB_USER")
	dbPass := os.Getenv("PCI9118_DB_PASSWORD")
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: dbUser,
		Password: dbPass,
	}
	client := clickhouse.ClientInfo{
		Products: []struct {
			Name    string
			Version string
		}{
			{Name: "pci9118d", Version: "unknown"},
		},
	}
	opt := clickhouse.Options{
		Addr:       []string{"localhost:9000"},
		Auth:       auth,
		ClientInfo: client,
		TLS:        nil,
	}
	ctx := context.Background()
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	db.conn = conn
	db.Add(1)

	if err = conn.Ping(ctx); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		db.err = err
		return db
	}

	db.runmsg = make(chan *RunMessage)
	return db
}

func (db *Connection) logActivity() {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	ae := db.activityEntry
	formattedStart := ae.Start.Format("2006-01-02 15:04:05.000000")
	formattedEnd := ae.End.Format("2006-01-02 15:04:05.000000")
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO daemonactivity VALUES (?, ?, ?, ?, ?, ?)`, nowait,
		ae.ID, ae.Hostname, ae.Version, ae.GoVersion,
		formattedStart, formattedEnd,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into daemonactivity ", err)
		db.err = err
	}
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case rmsg := <-db.runmsg:
			db.handleRunMessage(rmsg)
		}
	}
}

// Disconnect closes out the activity row with the end timestamp.
func (db *Connection) Disconnect() {
	if db.IsConnected() {
		db.activityEntry.End = time.Now()
		db.logActivity()
	}
}

// RecordRun stores a run-start row. This blocks until the insert
// goroutine accepts the message, so a run is in the database before
// any rows that reference it.
func (db *Connection) RecordRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	db.runmsg <- msg
}

// FinishRun updates the run row with its end time and outcome.
func (db *Connection) FinishRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.End = time.Now()
	go func() { db.runmsg <- msg }()
}

func (db *Connection) handleRunMessage(m *RunMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	formattedStart := m.Start.Format("2006-01-02 15:04:05.000000")
	formattedEnd := m.End.Format("2006-01-02 15:04:05.000000")
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO runs VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, db.activityEntry.ID, m.Board, m.Mode, m.NChan,
		m.NScans, m.Error, formattedStart, formattedEnd,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into runs ", err)
		db.err = err
	}
}
