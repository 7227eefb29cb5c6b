package amtid

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gaitlab/amtid/internal/amti"
	"github.com/gaitlab/amtid/internal/rowfile"
	"github.com/gaitlab/amtid/internal/rundb"
)

// RunDB is the global database connection for capture-run bookkeeping.
// The main program replaces it when database recording is enabled; the nil
// default makes all recording a no-op.
var RunDB *rundb.Connection

// WriteControlConfig carries the instructions to control capture writing.
type WriteControlConfig struct {
	Request   string // "Start", "Stop", "Pause", or "Unpause"
	Path      string // directory under which run directories are created
	Intention string // free-form description stored with the run
}

// WritingState monitors the state of capture-file writing.
type WritingState struct {
	Active      bool
	Paused      bool
	BasePath    string
	Filename    string
	RunCode     string
	RunID       string
	RowsWritten int
}

// CaptureWriter owns one capture file at a time and the bookkeeping rows
// that go with it. All methods run on the CoreLoop goroutine, except the
// Compute/IsActive queries, which take the lock.
type CaptureWriter struct {
	sourceName string
	db         *rundb.Connection
	state      WritingState
	appender   *rowfile.Appender
	captureMsg *rundb.CaptureMessage
	lock       sync.Mutex
}

// NewCaptureWriter returns a writer recording runs for the named source.
func NewCaptureWriter(sourceName string, db *rundb.Connection) *CaptureWriter {
	return &CaptureWriter{sourceName: sourceName, db: db}
}

// IsActive will return whether writing is active, with proper locking.
func (w *CaptureWriter) IsActive() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.state.Active
}

// ComputeState returns a copy of the WritingState.
func (w *CaptureWriter) ComputeState() WritingState {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.state
}

// captureSource is the part of a DataSource that capture control needs.
type captureSource interface {
	Nchan() int
	SampleRate() int
	DriftSummary() *amti.DriftSummary
}

// Control changes the writing state per the request in config.
func (w *CaptureWriter) Control(config *WriteControlConfig, ds captureSource) error {
	request := strings.ToUpper(config.Request)
	switch {
	case request == "START":
		return w.startCapture(config, ds)
	case request == "STOP":
		return w.StopCapture(ds.DriftSummary())
	case strings.HasPrefix(request, "PAUSE"):
		return w.setPaused(true)
	case strings.HasPrefix(request, "UNPAUSE"):
		return w.setPaused(false)
	}
	return fmt.Errorf("WriteControlConfig.Request=%q, need one of (START,STOP,PAUSE,UNPAUSE)",
		config.Request)
}

func (w *CaptureWriter) setPaused(pause bool) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	if !w.state.Active {
		return fmt.Errorf("writing is not active, cannot pause or unpause")
	}
	w.state.Paused = pause
	w.broadcastState()
	return nil
}

func (w *CaptureWriter) startCapture(config *WriteControlConfig, ds captureSource) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.state.Active {
		return fmt.Errorf("writing is already active, stop it before starting a new capture")
	}
	dir, runCode, err := makeDirectory(config.Path)
	if err != nil {
		return fmt.Errorf("could not make directory for writing: %s", err)
	}
	filename := filepath.Join(dir, runCode+"_rows.npy")
	appender, err := rowfile.NewAppender(filename, ds.Nchan())
	if err != nil {
		return err
	}

	w.appender = appender
	w.state = WritingState{
		Active:   true,
		BasePath: config.Path,
		Filename: filename,
		RunCode:  runCode,
		RunID:    ulid.Make().String(),
	}
	w.captureMsg = &rundb.CaptureMessage{
		ID:         w.state.RunID,
		RunCode:    runCode,
		Intention:  config.Intention,
		DataSource: w.sourceName,
		Directory:  dir,
		Nchannels:  ds.Nchan(),
		SampleRate: ds.SampleRate(),
		Start:      time.Now(),
	}
	w.db.RecordCapture(w.captureMsg)
	UpdateLogger.Printf("writing capture %s to %s", w.state.RunID, filename)
	w.broadcastState()
	return nil
}

// WriteBatch appends one batch of rows to the open capture, if any.
func (w *CaptureWriter) WriteBatch(batch *RowBatch) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	if !w.state.Active || w.state.Paused || len(batch.Rows) == 0 {
		return nil
	}
	if err := w.appender.AppendRows(batch.Rows); err != nil {
		return err
	}
	w.state.RowsWritten = w.appender.Rows()
	return w.appender.Flush()
}

// StopCapture closes the capture file and finishes its database rows.
// Calling it with no capture open is a no-op.
func (w *CaptureWriter) StopCapture(summary *amti.DriftSummary) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	if !w.state.Active {
		return nil
	}
	err := w.appender.Close()
	w.captureMsg.Nrows = w.appender.Rows()
	w.db.FinishCapture(w.captureMsg)
	if summary != nil && summary.Observations > 0 {
		w.db.RecordDrift(driftRecord(w.state.RunID, summary, w.captureMsg.Start))
	}
	UpdateLogger.Printf("closed capture %s with %d rows", w.state.RunID, w.captureMsg.Nrows)
	w.appender = nil
	w.captureMsg = nil
	w.state = WritingState{}
	w.broadcastState()
	return err
}

// driftRecord converts a run's drift summary into its database row.
func driftRecord(captureID string, summary *amti.DriftSummary, start time.Time) *rundb.DriftMessage {
	return &rundb.DriftMessage{
		CaptureID:      captureID,
		Observations:   summary.Observations,
		MeanDeficit:    summary.MeanDeficit,
		DeficitPerSec:  summary.DeficitRate,
		ElapsedSeconds: time.Since(start).Seconds(),
	}
}

// broadcastState sends the writing state to clients. Callers hold the lock.
func (w *CaptureWriter) broadcastState() {
	sendClientUpdate(ClientUpdate{tag: "WRITING", state: w.state})
}

// makeDirectory creates a dated run directory under basePath, of the form
// basePath/20060102/run0000, choosing the lowest unused run number for the
// date. It returns the directory and the run code "20060102_run0000".
func makeDirectory(basePath string) (string, string, error) {
	if !filepath.IsAbs(basePath) {
		return "", "", fmt.Errorf("basePath %q is not an absolute path", basePath)
	}
	date := time.Now().Format("20060102")
	datedir := filepath.Join(basePath, date)
	for i := 0; i < 10000; i++ {
		rundir := filepath.Join(datedir, fmt.Sprintf("run%04d", i))
		if _, err := os.Stat(rundir); os.IsNotExist(err) {
			if err2 := os.MkdirAll(rundir, 0775); err2 != nil {
				return "", "", err2
			}
			return rundir, fmt.Sprintf("%s_run%04d", date, i), nil
		}
	}
	return "", "", fmt.Errorf("out of run numbers under %s", datedir)
}
