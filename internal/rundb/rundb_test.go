package rundb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// The recording API must be safe against nil and disconnected receivers,
// because acquisition runs whether or not a database is reachable.
func TestDisconnectedIsInert(t *testing.T) {
	var nildb *Connection
	assert.False(t, nildb.IsConnected())
	nildb.RecordCapture(&CaptureMessage{ID: "x"})
	nildb.RecordDrift(&DriftMessage{CaptureID: "x"})
	nildb.Disconnect()

	db := DummyConnection()
	assert.False(t, db.IsConnected())
	db.RecordCapture(&CaptureMessage{ID: "x", Start: time.Now()})
	db.FinishCapture(&CaptureMessage{ID: "x"})
	db.RecordDrift(nil)
	db.Disconnect()
	db.Done()
	db.Wait()
}

func TestStartWithoutServerDegrades(t *testing.T) {
	// No ClickHouse server listens during unit tests, so the connection
	// must come back disconnected and all recording must be a no-op.
	abort := make(chan struct{})
	defer close(abort)
	db := StartConnection(&ActivityMessage{ID: "test", Start: time.Now()}, abort)
	assert.False(t, db.IsConnected())
	db.RecordCapture(&CaptureMessage{ID: "r1"})
	db.FinishCapture(&CaptureMessage{ID: "r1"})
}
