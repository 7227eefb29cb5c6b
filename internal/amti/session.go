package amti

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Delays mandated by the SDK documentation (sections 7.0 and 20.0).
const (
	initPollDelay = 250 * time.Millisecond
	initRetries   = 3
	startSettle   = 1 * time.Second
	releaseSettle = 500 * time.Millisecond
)

// sessionLive enforces the one-DLL-instance-per-process constraint at the
// type level: NewSession fails while another Session is live.
var sessionLive atomic.Bool

// SessionConfig carries the operator-settable bring-up parameters.
type SessionConfig struct {
	// Rate is the acquisition rate in Hz; must be in SamplingRates.
	Rate int
	// DeviceIndex selects among chained platforms. Use 0.
	DeviceIndex int
}

// Session is the exclusively-owned handle on the vendor library. At most
// one Session may be live per process, and a Session is one-shot: after
// Release it cannot be reused. The vendor library does not guarantee a
// clean reload, so opening a second session in the same process against
// real hardware is unsupported even after a clean Release.
type Session struct {
	ifc      Interfacer
	cfg      SessionConfig
	events   EventFunc
	diag     *Diagnostics
	released bool

	// sleep stands in for time.Sleep so tests can run the handshake
	// without the SDK's mandatory settle delays.
	sleep func(time.Duration)
}

// NewSession claims the vendor library and runs the SDK's ordered
// bring-up handshake. On return the device is acquiring. Every handshake
// step is fatal on failure: the claim is dropped and the error reports
// which step aborted the bring-up.
//
// The rate is validated before the device is touched; an unsupported
// rate never reaches the library.
func NewSession(cfg SessionConfig, ifc Interfacer, events EventFunc) (*Session, error) {
	return newSession(cfg, ifc, events, time.Sleep)
}

func newSession(cfg SessionConfig, ifc Interfacer, events EventFunc, sleep func(time.Duration)) (*Session, error) {
	caution, err := CheckRate(cfg.Rate)
	if err != nil {
		return nil, err
	}
	if !sessionLive.CompareAndSwap(false, true) {
		return nil, ErrSessionActive
	}
	s := &Session{ifc: ifc, cfg: cfg, events: events, sleep: sleep}
	if caution {
		events.emit(RateCautionEvent{Rate: cfg.Rate})
	}
	if err := s.bringUp(); err != nil {
		sessionLive.Store(false)
		return nil, err
	}
	return s, nil
}

// bringUp performs the strict device handshake (SDK section 7.0). Steps
// never retry across one another; only the init-completion poll is
// retried, bounded, within its own step.
func (s *Session) bringUp() error {
	if err := s.ifc.Init(); err != nil {
		return fmt.Errorf("%w: init: %v", ErrDeviceUnavailable, err)
	}

	ready := false
	for attempt := 0; attempt <= initRetries; attempt++ {
		s.sleep(initPollDelay)
		code, err := s.ifc.InitComplete()
		if err != nil {
			return fmt.Errorf("%w: init status: %v", ErrDeviceUnavailable, err)
		}
		if code == initCompleteRunning || code == initCompleteDone {
			ready = true
			break
		}
	}
	if !ready {
		return fmt.Errorf("%w after %d retries; check the contents of C:/AMTI/AMTIUsbSetup.cfg",
			ErrInitTimeout, initRetries)
	}

	code, err := s.ifc.SetupCheck()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSetupValidation, err)
	}
	if !acceptableSetupCodes[code] {
		return fmt.Errorf("%w: code %d", ErrSetupValidation, code)
	}

	n, err := s.ifc.DeviceCount()
	if err != nil {
		return fmt.Errorf("%w: device count: %v", ErrDeviceUnavailable, err)
	}
	if n <= 0 {
		return fmt.Errorf("%w: 0 devices found", ErrDeviceUnavailable)
	}
	if err := s.ifc.SelectDevice(s.cfg.DeviceIndex); err != nil {
		return fmt.Errorf("selecting device %d: %w", s.cfg.DeviceIndex, err)
	}

	if err := s.ifc.SetAcquisitionRate(s.cfg.Rate); err != nil {
		return fmt.Errorf("setting rate %d: %w", s.cfg.Rate, err)
	}
	if err := s.ifc.SetRunMode(FullyConditioned); err != nil {
		return fmt.Errorf("setting run mode: %w", err)
	}
	if err := s.ifc.SetDataFormat(Format8); err != nil {
		return fmt.Errorf("setting data format: %w", err)
	}

	// Diagnostics are collected before acquisition starts; some reads
	// move the library's device selection, so re-select afterwards.
	if ds, ok := s.ifc.(DiagnosticSource); ok {
		s.diag = CollectDiagnostics(s.ifc, ds, n, s.sleep)
		if err := s.ifc.SelectDevice(s.cfg.DeviceIndex); err != nil {
			return fmt.Errorf("re-selecting device %d: %w", s.cfg.DeviceIndex, err)
		}
	}

	if err := s.ifc.StartAcquisition(); err != nil {
		return fmt.Errorf("starting acquisition: %w", err)
	}
	if err := s.ifc.Zero(); err != nil {
		return fmt.Errorf("zeroing: %w", err)
	}
	s.sleep(startSettle)
	return nil
}

// Acquirer builds the SampleAcquirer bound to this session's device and
// rate.
func (s *Session) Acquirer() *SampleAcquirer {
	return NewSampleAcquirer(s.cfg.Rate, s.ifc, s.events)
}

// Diagnostics returns the snapshot taken during bring-up, or nil when the
// interface offers none.
func (s *Session) Diagnostics() *Diagnostics { return s.diag }

// Rate is the configured acquisition rate in Hz.
func (s *Session) Rate() int { return s.cfg.Rate }

// Release stops acquisition and shuts the library down, waiting the
// SDK-mandated settle delay. No samples may be read afterwards. Release
// is one-shot; further calls return ErrSessionReleased.
func (s *Session) Release() error {
	if s.released {
		return ErrSessionReleased
	}
	s.released = true
	if err := s.ifc.StopAcquisition(); err != nil {
		return fmt.Errorf("stopping acquisition: %w", err)
	}
	if err := s.ifc.Shutdown(); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	s.sleep(releaseSettle)
	// The claim frees only on a clean release. A failed one leaves the
	// vendor library in an unknown state, so no new session may open.
	sessionLive.Store(false)
	return nil
}
