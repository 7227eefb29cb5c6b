package amtid

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gaitlab/amtid/internal/amti"
)

// DefaultPollPeriod is how often the production loop drains the device
// buffer when a configuration does not say otherwise.
const DefaultPollPeriod = 50 * time.Millisecond

// platformSource implements the acquisition run shared by the hardware and
// simulated force-platform sources. The concrete sources differ only in how
// they produce an amti.Interfacer.
type platformSource struct {
	openDevice    func() (amti.Interfacer, error)
	device        amti.Interfacer
	session       *amti.Session
	acq           *amti.SampleAcquirer
	sessionConfig amti.SessionConfig
	pollPeriod    time.Duration
	sentDiag      bool
	AnySource
}

// Sample opens the device and brings up an acquisition session on it. For
// these sources this is the step that can fail: an absent DLL, a device
// that never finishes initializing, or a rejected setup all surface here.
func (ps *platformSource) Sample() error {
	device, err := ps.openDevice()
	if err != nil {
		return err
	}
	session, err := amti.NewSession(ps.sessionConfig, device, ps.handleEvent)
	if err != nil {
		return err
	}
	ps.device = device
	ps.session = session
	ps.acq = session.Acquirer()
	ps.sentDiag = false
	ps.nchan = amti.NumChannels
	ps.chanNames = amti.ChannelNames()
	ps.sampleRate = session.Rate()
	return nil
}

// StartRun launches the production loop.
func (ps *platformSource) StartRun() error {
	go ps.produceData()
	return nil
}

// produceData polls the device buffer until the source is stopped. It owns
// the session: when abortSelf closes, it releases the hardware and closes
// nextBlock so the CoreLoop can finish.
func (ps *platformSource) produceData() {
	defer close(ps.nextBlock)
	ticker := time.NewTicker(ps.pollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ps.abortSelf:
			summary := ps.acq.Summarize()
			ps.closeRun(&summary)
			if err := ps.session.Release(); err != nil {
				ProblemLogger.Printf("error releasing device session: %s", err)
			}
			return

		case now := <-ticker.C:
			batch, err := ps.acq.Update(now)
			block := &dataBlock{err: err}
			if err == nil {
				block.batch = RowBatch{Rows: batch.Rows, Timestamps: batch.Timestamps}
				if !ps.sentDiag && !batch.Empty() {
					block.batch.Diagnostics = ps.session.Diagnostics()
					ps.sentDiag = true
				}
			}
			select {
			case ps.nextBlock <- block:
			case <-ps.abortSelf:
				summary := ps.acq.Summarize()
				ps.closeRun(&summary)
				if err := ps.session.Release(); err != nil {
					ProblemLogger.Printf("error releasing device session: %s", err)
				}
				return
			}
			if err != nil {
				// A read error is fatal to the run. CoreLoop sees the
				// error block and returns; clean up here.
				ps.closeRun(nil)
				if rerr := ps.session.Release(); rerr != nil {
					ProblemLogger.Printf("error releasing device session: %s", rerr)
				}
				return
			}
		}
	}
}

// handleEvent routes acquisition events to the logs and status clients.
func (ps *platformSource) handleEvent(ev amti.Event) {
	switch e := ev.(type) {
	case amti.DiscontinuityEvent:
		atomic.AddInt64(&ps.gapsSeen, int64(e.Gaps))
		ProblemLogger.Print(e.String())
	case amti.DriftEvent:
		// Drift is observed on every non-empty poll; it is routine
		// telemetry, not a problem report.
		UpdateLogger.Print(e.String())
	case amti.RateCautionEvent:
		ProblemLogger.Print(e.String())
	default:
		UpdateLogger.Print(ev.String())
	}
	sendClientUpdate(ClientUpdate{tag: ev.Tag(), state: struct{ Message string }{ev.String()}})
}

// Diagnostics returns the hardware snapshot taken during session bring-up,
// or nil when no session is up.
func (ps *platformSource) Diagnostics() *amti.Diagnostics {
	if ps.session == nil {
		return nil
	}
	return ps.session.Diagnostics()
}

// DriftSummary summarizes the drift observations of the current run.
func (ps *platformSource) DriftSummary() *amti.DriftSummary {
	if ps.acq == nil {
		return nil
	}
	summary := ps.acq.Summarize()
	return &summary
}

// AMTISourceConfig holds the arguments needed to configure an AMTISource
// by RPC.
type AMTISourceConfig struct {
	Rate              int
	DLLDir            string
	DeviceIndex       int
	PollMilliseconds  int
	ShouldAutoRestart bool
}

// AMTISource is a DataSource that reads an AMTI Gen5 force platform through
// the vendor DLL.
type AMTISource struct {
	config AMTISourceConfig
	platformSource
}

// NewAMTISource creates an AMTISource with its default device opener.
func NewAMTISource() *AMTISource {
	source := new(AMTISource)
	source.name = "AMTI"
	source.openDevice = func() (amti.Interfacer, error) {
		return amti.OpenDevice(source.config.DLLDir)
	}
	return source
}

// Configure stores the configuration for the next Start. It errors if the
// source is currently active.
func (as *AMTISource) Configure(config *AMTISourceConfig) error {
	as.sourceStateLock.Lock()
	defer as.sourceStateLock.Unlock()
	if as.sourceState != Inactive {
		return fmt.Errorf("cannot configure an AMTISource that is %v, not Inactive", as.sourceState)
	}
	if _, err := amti.CheckRate(config.Rate); err != nil {
		return err
	}
	as.config = *config
	as.sessionConfig = amti.SessionConfig{Rate: config.Rate, DeviceIndex: config.DeviceIndex}
	as.pollPeriod = pollPeriod(config.PollMilliseconds)
	as.shouldAutoRestart = config.ShouldAutoRestart
	return nil
}

func pollPeriod(milliseconds int) time.Duration {
	if milliseconds <= 0 {
		return DefaultPollPeriod
	}
	return time.Duration(milliseconds) * time.Millisecond
}
