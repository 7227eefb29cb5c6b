// Package rundb records server activity and capture runs in a ClickHouse
// database. All writes are asynchronous inserts; if the database cannot be
// reached, every operation degrades to a no-op so acquisition never blocks
// on bookkeeping.
package rundb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

const databaseName = "amtid" // official SQL name of the database

const timeLayout = "2006-01-02 15:04:05.000000"

// Connection wraps a ClickHouse connection plus the channels that feed its
// single writer goroutine.
type Connection struct {
	conn          clickhouse.Conn
	err           error
	activityEntry *ActivityMessage
	capturemsg    chan *CaptureMessage
	driftmsg      chan *DriftMessage
	sync.WaitGroup
}

func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// PingServer checks that a ClickHouse server is reachable and prints its
// version. Used by the -ping command-line flag.
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
	return db.conn.Close()
}

// StartConnection connects to the database, logs the given activity entry,
// and launches the writer goroutine. It never fails: an unreachable server
// yields a disconnected Connection whose methods are no-ops.
func StartConnection(activity *ActivityMessage, abort <-chan struct{}) *Connection {
	db := createConnection()
	db.activityEntry = activity
	db.logActivity()
	go db.handleConnection(abort)
	return db
}

// DummyConnection returns a never-connected Connection, for use when
// database recording is disabled.
func DummyConnection() *Connection {
	db := &Connection{}
	db.Add(1)
	return db
}

func createConnection() *Connection {
	db := &Connection{}
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: os.Getenv("AMTID_DB_USER"),
		Password: os.Getenv("AMTID_DB_PASSWORD"),
	}
	client := clickhouse.ClientInfo{
		Products: []struct {
			Name    string
			Version string
		}{
			{Name: "amtid", Version: "unknown"},
		},
	}
	opt := clickhouse.Options{
		Addr:       []string{"localhost:9000"},
		Auth:       auth,
		ClientInfo: client,
		TLS:        nil,
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	db.conn = conn
	db.Add(1)

	if err = conn.Ping(context.Background()); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		db.err = err
		return db
	}

	db.capturemsg = make(chan *CaptureMessage)
	db.driftmsg = make(chan *DriftMessage)
	return db
}

func (db *Connection) logActivity() {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	ae := db.activityEntry
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO amtidactivity VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		ae.ID, ae.Hostname, ae.Githash, ae.Version,
		ae.GoVersion, ae.CPUs, ae.Start.Format(timeLayout), ae.End.Format(timeLayout),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into amtidactivity ", err)
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
		case cmsg := <-db.capturemsg:
			db.handleCaptureMessage(cmsg)
		case dmsg := <-db.driftmsg:
			db.handleDriftMessage(dmsg)
		}
	}
}

// Disconnect updates the activity entry's end time. The connection itself
// is left open for any in-flight async inserts.
func (db *Connection) Disconnect() {
	if db.IsConnected() {
		db.activityEntry.End = time.Now()
		db.logActivity()
	}
}

// RecordCapture stores a capture-run entry in the DB (if it's open).
// This call blocks until the writer goroutine accepts the message, which
// guarantees the run row exists before any dependent rows are written.
func (db *Connection) RecordCapture(msg *CaptureMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	db.capturemsg <- msg
}

// FinishCapture stamps the end time on a capture run and re-records it.
func (db *Connection) FinishCapture(msg *CaptureMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.End = time.Now()
	go func() { db.capturemsg <- msg }()
}

// RecordDrift stores one drift summary row (if the DB is open).
func (db *Connection) RecordDrift(msg *DriftMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	go func() { db.driftmsg <- msg }()
}

func (db *Connection) handleCaptureMessage(m *CaptureMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO captureruns VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, db.activityEntry.ID, m.RunCode, m.Intention, m.DataSource, m.Directory,
		m.Nchannels, m.Nrows, m.SampleRate,
		m.Start.Format(timeLayout), m.End.Format(timeLayout),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into captureruns ", err)
		db.err = err
	}
}

func (db *Connection) handleDriftMessage(m *DriftMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO driftlog VALUES (?, ?, ?, ?, ?)`, nowait,
		m.CaptureID, m.Observations, m.MeanDeficit, m.DeficitPerSec, m.ElapsedSeconds,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into driftlog ", err)
		db.err = err
	}
}
