package amtid

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaitlab/amtid/internal/amti"
)

func preparedSource(t *testing.T) *AnySource {
	ds := new(AnySource)
	ds.name = "test"
	ds.nchan = 8
	ds.sampleRate = 500
	ds.noPublish = true
	require.NoError(t, ds.PrepareRun())
	return ds
}

func TestSourceStateTransitions(t *testing.T) {
	ds := preparedSource(t)
	assert.Equal(t, Inactive, ds.GetState())
	assert.False(t, ds.Running())

	require.NoError(t, ds.SetStateStarting())
	assert.Equal(t, Starting, ds.GetState())
	assert.Error(t, ds.SetStateStarting(), "cannot start a source twice")

	ds.RunDoneActivate()
	assert.True(t, ds.Running())

	// Pretend to be the CoreLoop: deactivate when the abort signal comes.
	go func() {
		<-ds.abortSelf
		ds.RunDoneDeactivate()
	}()
	require.NoError(t, ds.Stop())
	assert.Equal(t, Inactive, ds.GetState())
	assert.Error(t, ds.Stop(), "cannot stop an inactive source")
}

func TestPrepareRunValidation(t *testing.T) {
	ds := new(AnySource)
	ds.noPublish = true
	assert.Error(t, ds.PrepareRun(), "zero channels should be rejected")
	ds.nchan = 8
	assert.Error(t, ds.PrepareRun(), "zero sample rate should be rejected")
	ds.sampleRate = 500
	assert.NoError(t, ds.PrepareRun())
}

func TestProcessBatchCountsRows(t *testing.T) {
	ds := preparedSource(t)
	block := &dataBlock{batch: RowBatch{
		Rows:       [][]float64{{0}, {1}, {2}, {3}, {4}},
		Timestamps: make([]time.Time, 5),
	}}
	require.NoError(t, ds.ProcessBatch(block))
	require.NoError(t, ds.ProcessBatch(block))
	assert.Equal(t, int64(10), ds.RowsSeen())
	assert.Equal(t, int64(0), ds.GapsSeen())
}

// failingSink is a DataSource whose batch processing always errors, with a
// production loop that only exits when abortSelf closes.
type failingSink struct {
	AnySource
	prodExited chan struct{}
}

func (fs *failingSink) Sample() error                    { return nil }
func (fs *failingSink) Diagnostics() *amti.Diagnostics   { return nil }
func (fs *failingSink) DriftSummary() *amti.DriftSummary { return nil }

func (fs *failingSink) StartRun() error {
	go func() {
		defer close(fs.nextBlock)
		defer close(fs.prodExited)
		for {
			block := &dataBlock{batch: RowBatch{
				Rows:       [][]float64{make([]float64, 8)},
				Timestamps: make([]time.Time, 1),
			}}
			select {
			case fs.nextBlock <- block:
			case <-fs.abortSelf:
				return
			}
		}
	}()
	return nil
}

func (fs *failingSink) ProcessBatch(*dataBlock) error {
	return fmt.Errorf("capture write failed")
}

// A processing error must abort the production loop, or it blocks forever
// on the next send and the device is never released.
func TestProcessBatchErrorStopsProduction(t *testing.T) {
	fs := &failingSink{prodExited: make(chan struct{})}
	fs.name = "test"
	fs.nchan = 8
	fs.sampleRate = 500
	fs.noPublish = true

	require.NoError(t, Start(fs, make(chan func())))
	select {
	case <-fs.prodExited:
	case <-time.After(2 * time.Second):
		t.Fatal("production loop still running after a processing error")
	}
	fs.RunDoneWait()
	assert.Equal(t, Inactive, fs.GetState())
}

func TestCloseIfOpenIsIdempotent(t *testing.T) {
	c := make(chan struct{})
	closeIfOpen(c)
	closeIfOpen(c)
	select {
	case <-c:
	default:
		t.Error("channel should be closed")
	}
}
