package amti

import (
	"errors"
	"testing"
	"time"
)

// recDevice wraps NoHardware and records the order of bring-up calls.
type recDevice struct {
	*NoHardware
	calls []string
}

func (r *recDevice) log(name string) { r.calls = append(r.calls, name) }

func (r *recDevice) Init() error { r.log("Init"); return r.NoHardware.Init() }
func (r *recDevice) InitComplete() (int, error) {
	r.log("InitComplete")
	return r.NoHardware.InitComplete()
}
func (r *recDevice) SetupCheck() (int, error) { r.log("SetupCheck"); return r.NoHardware.SetupCheck() }
func (r *recDevice) DeviceCount() (int, error) {
	r.log("DeviceCount")
	return r.NoHardware.DeviceCount()
}
func (r *recDevice) SelectDevice(i int) error {
	r.log("SelectDevice")
	return r.NoHardware.SelectDevice(i)
}
func (r *recDevice) SetAcquisitionRate(hz int) error {
	r.log("SetAcquisitionRate")
	return r.NoHardware.SetAcquisitionRate(hz)
}
func (r *recDevice) SetRunMode(m RunMode) error {
	r.log("SetRunMode")
	return r.NoHardware.SetRunMode(m)
}
func (r *recDevice) SetDataFormat(f DataFormat) error {
	r.log("SetDataFormat")
	return r.NoHardware.SetDataFormat(f)
}
func (r *recDevice) StartAcquisition() error {
	r.log("StartAcquisition")
	return r.NoHardware.StartAcquisition()
}
func (r *recDevice) Zero() error            { r.log("Zero"); return r.NoHardware.Zero() }
func (r *recDevice) StopAcquisition() error { r.log("StopAcquisition"); return r.NoHardware.StopAcquisition() }
func (r *recDevice) Shutdown() error        { r.log("Shutdown"); return r.NoHardware.Shutdown() }

func noSleep(time.Duration) {}

func TestBringUpOrdering(t *testing.T) {
	dev := &recDevice{NoHardware: NewNoHardware(1)}
	s, err := newSession(SessionConfig{Rate: 500}, dev, nil, noSleep)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer s.Release()

	want := []string{"Init", "InitComplete", "SetupCheck", "DeviceCount", "SelectDevice",
		"SetAcquisitionRate", "SetRunMode", "SetDataFormat"}
	if len(dev.calls) < len(want) {
		t.Fatalf("bring-up made %d calls, want at least %d: %v", len(dev.calls), len(want), dev.calls)
	}
	for i, name := range want {
		if dev.calls[i] != name {
			t.Errorf("bring-up call %d = %s, want %s (full order %v)", i, dev.calls[i], name, dev.calls)
		}
	}
	last2 := dev.calls[len(dev.calls)-2:]
	if last2[0] != "StartAcquisition" || last2[1] != "Zero" {
		t.Errorf("bring-up must end with StartAcquisition, Zero; got %v", last2)
	}
}

func TestUnsupportedRateFailsBeforeDeviceCalls(t *testing.T) {
	dev := &recDevice{NoHardware: NewNoHardware(1)}
	_, err := newSession(SessionConfig{Rate: 777}, dev, nil, noSleep)
	if !errors.Is(err, ErrUnsupportedRate) {
		t.Fatalf("rate=777 gave %v, want ErrUnsupportedRate", err)
	}
	if len(dev.calls) != 0 {
		t.Errorf("rate validation touched the device: %v", dev.calls)
	}
}

func TestHighRateCaution(t *testing.T) {
	el := &eventLog{}
	dev := NewNoHardware(1)
	s, err := newSession(SessionConfig{Rate: 2000}, dev, el.record, noSleep)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer s.Release()
	found := false
	for _, ev := range el.events {
		if _, ok := ev.(RateCautionEvent); ok {
			found = true
		}
	}
	if !found {
		t.Error("rate 2000 Hz did not emit a RateCautionEvent")
	}
}

func TestInitTimeout(t *testing.T) {
	dev := NewNoHardware(1)
	dev.ScriptInitCodes(0) // never ready
	_, err := newSession(SessionConfig{Rate: 500}, dev, nil, noSleep)
	if !errors.Is(err, ErrInitTimeout) {
		t.Fatalf("got %v, want ErrInitTimeout", err)
	}
}

func TestInitEventuallyCompletes(t *testing.T) {
	dev := NewNoHardware(1)
	dev.ScriptInitCodes(0, 0, 2) // ready on the third poll
	s, err := newSession(SessionConfig{Rate: 500}, dev, nil, noSleep)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	s.Release()
}

func TestSetupCheckWhitelist(t *testing.T) {
	for _, tc := range []struct {
		code int
		ok   bool
	}{
		{0, true}, {1, true}, {214, true}, {5, false}, {213, false},
	} {
		dev := NewNoHardware(1)
		dev.ScriptSetupCode(tc.code)
		s, err := newSession(SessionConfig{Rate: 500}, dev, nil, noSleep)
		if tc.ok {
			if err != nil {
				t.Errorf("setup code %d: unexpected error %v", tc.code, err)
			} else {
				s.Release()
			}
			continue
		}
		if !errors.Is(err, ErrSetupValidation) {
			t.Errorf("setup code %d gave %v, want ErrSetupValidation", tc.code, err)
		}
	}
}

func TestZeroDevicesIsFatal(t *testing.T) {
	dev := NewNoHardware(0)
	_, err := newSession(SessionConfig{Rate: 500}, dev, nil, noSleep)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("got %v, want ErrDeviceUnavailable", err)
	}
}

func TestSessionIsExclusive(t *testing.T) {
	s, err := newSession(SessionConfig{Rate: 500}, NewNoHardware(1), nil, noSleep)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	if _, err := newSession(SessionConfig{Rate: 500}, NewNoHardware(1), nil, noSleep); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second live session gave %v, want ErrSessionActive", err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

type stopFailDevice struct {
	*NoHardware
}

func (d *stopFailDevice) StopAcquisition() error { return errors.New("usb detached") }

func TestFailedReleaseKeepsClaim(t *testing.T) {
	s, err := newSession(SessionConfig{Rate: 500}, &stopFailDevice{NewNoHardware(1)}, nil, noSleep)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	t.Cleanup(func() { sessionLive.Store(false) })
	if err := s.Release(); err == nil {
		t.Fatal("Release succeeded despite a failing StopAcquisition")
	}
	// The library is in an unknown state, so the claim stays held.
	if _, err := newSession(SessionConfig{Rate: 500}, NewNoHardware(1), nil, noSleep); !errors.Is(err, ErrSessionActive) {
		t.Errorf("session after failed Release gave %v, want ErrSessionActive", err)
	}
}

func TestReleaseIsOneShot(t *testing.T) {
	dev := &recDevice{NoHardware: NewNoHardware(1)}
	s, err := newSession(SessionConfig{Rate: 500}, dev, nil, noSleep)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	n := len(dev.calls)
	if dev.calls[n-2] != "StopAcquisition" || dev.calls[n-1] != "Shutdown" {
		t.Errorf("release order: %v, want ...StopAcquisition, Shutdown", dev.calls[n-2:])
	}
	if err := s.Release(); !errors.Is(err, ErrSessionReleased) {
		t.Errorf("second Release gave %v, want ErrSessionReleased", err)
	}
}

func TestDiagnosticsSnapshotCollected(t *testing.T) {
	dev := NewNoHardware(2)
	s, err := newSession(SessionConfig{Rate: 500, DeviceIndex: 1}, dev, nil, noSleep)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer s.Release()
	d := s.Diagnostics()
	if d == nil {
		t.Fatal("no diagnostics snapshot collected during bring-up")
	}
	if d.General.DeviceCount != 2 || len(d.Devices) != 2 {
		t.Errorf("snapshot covers %d/%d devices, want 2/2", d.General.DeviceCount, len(d.Devices))
	}
	if d.Devices[0].Conditioner.Amplifier.ModelNumber == "" {
		t.Error("amplifier identity missing from snapshot")
	}
	// Bring-up must leave the configured device selected.
	if dev.selected != 1 {
		t.Errorf("selected device %d after bring-up, want 1", dev.selected)
	}
}
