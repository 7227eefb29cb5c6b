package amtid

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaitlab/amtid/internal/amti"
)

// SourceState is used to indicate the active/inactive/transition state of data sources
type SourceState int

// Names for the possible values of SourceState
const (
	Inactive SourceState = iota // Source is not active
	Starting                    // Source is in transition to Active state
	Active                      // Source is actively acquiring data
	Stopping                    // Source is in transition to Inactive state
)

// RowBatch is one drained block of samples: one row per sample, one
// reconstructed timestamp per row. Diagnostics is non-nil only on the first
// batch a source produces after starting.
type RowBatch struct {
	Rows        [][]float64
	Timestamps  []time.Time
	Diagnostics *amti.Diagnostics
}

// dataBlock carries one RowBatch (or a fatal error) from the data
// production loop to the CoreLoop.
type dataBlock struct {
	batch RowBatch
	err   error
}

// DataSource is the interface for hardware or simulated data sources that
// produce data.
type DataSource interface {
	Sample() error
	PrepareRun() error
	StartRun() error
	Stop() error
	Running() bool
	GetState() SourceState
	SetStateStarting() error
	SetStateInactive() error
	getNextBlock() chan *dataBlock
	signalAbort()
	Nchan() int
	SampleRate() int
	ChannelNames() []string
	Diagnostics() *amti.Diagnostics
	DriftSummary() *amti.DriftSummary
	ProcessBatch(*dataBlock) error
	ComputeWritingState() WritingState
	WritingIsActive() bool
	WriteControl(*WriteControlConfig) error
	RunDoneActivate()
	RunDoneDeactivate()
	RunDoneWait()
	RowsSeen() int64
	GapsSeen() int64
	ShouldAutoRestart() bool
}

// AnySource implements features common to any object that implements
// DataSource, including the output channel and the abort channel.
type AnySource struct {
	nchan      int      // how many channels to provide
	name       string   // what kind of source is this?
	chanNames  []string // one name per channel
	sampleRate int      // samples per second
	startTime  time.Time
	rowsSeen   int64           // total rows processed since StartRun, read atomically
	gapsSeen   int64           // total counter discontinuities, read atomically
	abortSelf  chan struct{}   // Signal to the production loop of active sources to stop
	nextBlock  chan *dataBlock // Signal from the production loop that a block is ready to process

	shouldAutoRestart bool // tells SourceControl to restart this source after an error
	noPublish         bool // Set true only for testing.
	publisher         *RowPublisher
	writer            *CaptureWriter
	sourceState       SourceState
	sourceStateLock   sync.Mutex // guards sourceState
	runDone           sync.WaitGroup
}

// Start will start the given DataSource. Steps are: 1) Sample: a per-source
// method that opens the hardware and determines the channel count. 2)
// PrepareRun: an AnySource method to do the actions any source needs before
// the acquisition phase. 3) StartRun: a per-source method that launches the
// data production loop. 4) CoreLoop: a goroutine that consumes blocks until
// the source stops.
func Start(ds DataSource, queuedRequests chan func()) error {
	if err := ds.SetStateStarting(); err != nil {
		return err
	}

	if err := ds.Sample(); err != nil {
		ds.SetStateInactive()
		return err
	}

	if err := ds.PrepareRun(); err != nil {
		ds.SetStateInactive()
		return err
	}

	ds.RunDoneActivate() // We'll call RunDoneDeactivate when CoreLoop returns.
	if err := ds.StartRun(); err != nil {
		ds.RunDoneDeactivate()
		return err
	}

	go CoreLoop(ds, queuedRequests)
	return nil
}

// CoreLoop has the DataSource produce data until graceful stop.
// This will be a long-running goroutine, as long as a source is active.
func CoreLoop(ds DataSource, queuedRequests chan func()) {
	defer ds.RunDoneDeactivate()
	nextBlock := ds.getNextBlock()

	for {
		// Use select to interleave 2 activities that should NOT be done
		// concurrently:
		// 1. Handle RPC requests that touch the source (e.g. write control)
		// 2. Handle new data and process it
		select {

		case request := <-queuedRequests:
			request()

		case block, ok := <-nextBlock:
			if !ok {
				// nextBlock was closed in the production loop when abortSelf was closed
				log.Println("nextBlock channel was closed; stopping the source normally")
				return

			} else if block.err != nil {
				// errors in a block indicate a problem with the source: close down
				log.Printf("nextBlock receives Error; stopping source: %s\n", block.err.Error())
				ProblemLogger.Printf("source error, stopping: %s", block.err.Error())
				ds.signalAbort()
				return
			}
			if err := ds.ProcessBatch(block); err != nil {
				log.Printf("AnySource.ProcessBatch returns Error; stopping source: %s\n", err.Error())
				ProblemLogger.Printf("error processing data, stopping source: %s", err.Error())
				// The production loop may be blocked sending the next
				// block; abort it so it releases the device.
				ds.signalAbort()
				return
			}
		}
	}
}

// Stop tells the data supply to deactivate.
func (ds *AnySource) Stop() error {
	ds.sourceStateLock.Lock()
	switch ds.sourceState {
	case Inactive:
		ds.sourceStateLock.Unlock()
		return fmt.Errorf("AnySource not active, cannot stop")

	case Starting, Active:
		// The normal cases: Stop a source that is up or coming up.

	case Stopping:
		// Ignore Stop if source is already Stopping.
		ds.sourceStateLock.Unlock()
		return nil
	}
	ds.sourceState = Stopping
	closeIfOpen(ds.abortSelf)
	ds.sourceStateLock.Unlock()

	ds.RunDoneWait()
	return nil
}

// signalAbort closes the abort channel so the production loop shuts the
// run down even when no Stop request will come.
func (ds *AnySource) signalAbort() {
	ds.sourceStateLock.Lock()
	defer ds.sourceStateLock.Unlock()
	if ds.abortSelf != nil {
		closeIfOpen(ds.abortSelf)
	}
}

func closeIfOpen(c chan struct{}) {
	select {
	case <-c:
		log.Println("warning: you tried to close a channel twice, but Amtid outsmarted you")
	default:
		close(c)
	}
}

// RunDoneActivate adds one to ds.runDone, this should only be called in Start
func (ds *AnySource) RunDoneActivate() {
	ds.sourceStateLock.Lock()
	defer ds.sourceStateLock.Unlock()
	ds.sourceState = Active
	ds.runDone.Add(1)
}

// RunDoneDeactivate calls Done on ds.runDone, this should only be called in CoreLoop
func (ds *AnySource) RunDoneDeactivate() {
	ds.sourceStateLock.Lock()
	ds.sourceState = Inactive
	ds.runDone.Done()
	ds.sourceStateLock.Unlock()
}

// RunDoneWait returns when the source run is done, i.e., the source is stopped
func (ds *AnySource) RunDoneWait() {
	ds.runDone.Wait()
}

// getNextBlock returns the channel on which data sources send data and any errors.
// More importantly, wait on this channel to wait on the source to have a data block.
func (ds *AnySource) getNextBlock() chan *dataBlock {
	return ds.nextBlock
}

// Running tells whether the source is actively running.
func (ds *AnySource) Running() bool {
	return ds.GetState() == Active
}

// GetState returns the sourceState value under a lock.
func (ds *AnySource) GetState() SourceState {
	ds.sourceStateLock.Lock()
	defer ds.sourceStateLock.Unlock()
	return ds.sourceState
}

// SetStateStarting moves the state from Inactive to Starting, or errors.
func (ds *AnySource) SetStateStarting() error {
	ds.sourceStateLock.Lock()
	defer ds.sourceStateLock.Unlock()
	if ds.sourceState == Inactive {
		ds.sourceState = Starting
		return nil
	}
	return fmt.Errorf("cannot Start() a source that's %v, not Inactive", ds.sourceState)
}

// SetStateInactive returns the state to Inactive (used when startup fails).
func (ds *AnySource) SetStateInactive() error {
	ds.sourceStateLock.Lock()
	defer ds.sourceStateLock.Unlock()
	ds.sourceState = Inactive
	return nil
}

// DriftSummary returns nil: a bare AnySource observes no drift. Concrete
// sources that track drift shadow this with their own method.
func (ds *AnySource) DriftSummary() *amti.DriftSummary {
	return nil
}

// ShouldAutoRestart true if source should be auto-restarted after an error
func (ds *AnySource) ShouldAutoRestart() bool {
	return ds.shouldAutoRestart
}

// Nchan returns the number of channels the source produces.
func (ds *AnySource) Nchan() int {
	return ds.nchan
}

// SampleRate returns the configured acquisition rate in samples per second.
func (ds *AnySource) SampleRate() int {
	return ds.sampleRate
}

// ChannelNames returns the name of each column in a RowBatch.
func (ds *AnySource) ChannelNames() []string {
	return ds.chanNames
}

// RowsSeen returns the number of rows processed since the source started.
func (ds *AnySource) RowsSeen() int64 {
	return atomic.LoadInt64(&ds.rowsSeen)
}

// GapsSeen returns the number of counter discontinuities observed since the
// source started.
func (ds *AnySource) GapsSeen() int64 {
	return atomic.LoadInt64(&ds.gapsSeen)
}

// PrepareRun configures an AnySource by initializing all data structures
// that cannot be prepared until the source-specific Sample() has run.
func (ds *AnySource) PrepareRun() error {
	if ds.nchan <= 0 {
		return fmt.Errorf("PrepareRun could not run with %d channels, expect > 0", ds.nchan)
	}
	if ds.sampleRate <= 0 {
		return fmt.Errorf("PrepareRun could not run with sample rate %d, expect > 0", ds.sampleRate)
	}
	ds.abortSelf = make(chan struct{})
	ds.nextBlock = make(chan *dataBlock)
	ds.startTime = time.Now()
	atomic.StoreInt64(&ds.rowsSeen, 0)
	atomic.StoreInt64(&ds.gapsSeen, 0)

	if !ds.noPublish {
		pub, err := newRowPublisher(Ports.Rows)
		if err != nil {
			return err
		}
		pub.Configure(ds.nchan, ds.sampleRate)
		ds.publisher = pub
	}
	if ds.writer == nil {
		ds.writer = NewCaptureWriter(ds.name, RunDB)
	}
	return nil
}

// ProcessBatch publishes and (if capture is active) writes one block of rows.
func (ds *AnySource) ProcessBatch(block *dataBlock) error {
	batch := &block.batch
	atomic.AddInt64(&ds.rowsSeen, int64(len(batch.Rows)))
	if batch.Diagnostics != nil {
		sendClientUpdate(ClientUpdate{tag: "DIAGNOSTICS", state: batch.Diagnostics})
	}
	if ds.publisher != nil {
		ds.publisher.Publish(batch)
	}
	if err := ds.writer.WriteBatch(batch); err != nil {
		return err
	}
	return nil
}

// closeRun shuts down the publisher and closes any open capture. It runs in
// the production loop after abortSelf closes, before nextBlock closes.
func (ds *AnySource) closeRun(summary *amti.DriftSummary) {
	if ds.writer != nil {
		if err := ds.writer.StopCapture(summary); err != nil {
			ProblemLogger.Printf("error closing capture: %s", err)
		}
	}
	if ds.publisher != nil {
		ds.publisher.Close()
		ds.publisher = nil
	}
}

// ComputeWritingState returns a copy of the capture-writing state.
func (ds *AnySource) ComputeWritingState() WritingState {
	if ds.writer == nil {
		return WritingState{}
	}
	return ds.writer.ComputeState()
}

// WritingIsActive will return whether the source is writing a capture file.
func (ds *AnySource) WritingIsActive() bool {
	return ds.writer != nil && ds.writer.IsActive()
}

// WriteControl changes the capture-writing state: starting, stopping,
// pausing or unpausing the capture file.
func (ds *AnySource) WriteControl(config *WriteControlConfig) error {
	if ds.writer == nil {
		return fmt.Errorf("no capture writer exists, cannot control writing")
	}
	return ds.writer.Control(config, ds)
}
