package amti

import (
	"fmt"
	"testing"
	"time"
)

// flakyDiag fails its limits reads a fixed number of times before
// succeeding, as the real conditioner sometimes does.
type flakyDiag struct {
	*NoHardware
	failuresLeft int
	attempts     int
}

func (f *flakyDiag) MechanicalLimits() ([12]float32, error) {
	f.attempts++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return [12]float32{}, fmt.Errorf("limits not ready")
	}
	return [12]float32{1, 2, 3}, nil
}

func TestDiagnosticLimitsRetry(t *testing.T) {
	nh := NewNoHardware(1)
	if err := nh.Init(); err != nil {
		t.Fatal(err)
	}
	dev := &flakyDiag{NoHardware: nh, failuresLeft: 2}
	d := CollectDiagnostics(nh, dev, 1, func(time.Duration) {})
	if dev.attempts != 3 {
		t.Errorf("limits read attempted %d times, want 3", dev.attempts)
	}
	if d.Devices[0].Limits.MechanicalMaxAndMin[0] != 1 {
		t.Errorf("limits not recorded after successful retry: %v", d.Devices[0].Limits.MechanicalMaxAndMin)
	}
}

func TestDiagnosticLimitsRetryBounded(t *testing.T) {
	nh := NewNoHardware(1)
	if err := nh.Init(); err != nil {
		t.Fatal(err)
	}
	dev := &flakyDiag{NoHardware: nh, failuresLeft: 100}
	d := CollectDiagnostics(nh, dev, 1, func(time.Duration) {})
	if dev.attempts != 1+diagRetries {
		t.Errorf("limits read attempted %d times, want %d", dev.attempts, 1+diagRetries)
	}
	// Snapshot still produced; the field just stays zero.
	if len(d.Devices) != 1 {
		t.Fatalf("snapshot has %d devices, want 1", len(d.Devices))
	}
}

func TestNoHardwarePacing(t *testing.T) {
	nh := NewNoHardware(1)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	nh.SetClock(func() time.Time { return now })
	if err := nh.Init(); err != nil {
		t.Fatal(err)
	}
	if err := nh.SetAcquisitionRate(1000); err != nil {
		t.Fatal(err)
	}
	if err := nh.StartAcquisition(); err != nil {
		t.Fatal(err)
	}

	buf := make([]float32, BlockFloats)
	if n, _ := nh.ReadBuffer(buf); n != 0 {
		t.Errorf("read %d values with no elapsed time, want 0", n)
	}

	// 40 ms at 1000 Hz owes 40 rows: two full 16-row blocks.
	now = now.Add(40 * time.Millisecond)
	total := 0
	for {
		n, err := nh.ReadBuffer(buf)
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			break
		}
		total += n / NumChannels
	}
	if total != 32 {
		t.Errorf("drained %d rows after 40ms at 1kHz, want 32", total)
	}
}

func TestNoHardwareCounterWrap(t *testing.T) {
	nh := NewNoHardware(1)
	nh.SetCounter(CounterWrap - 1)
	if err := nh.Init(); err != nil {
		t.Fatal(err)
	}
	if err := nh.SetAcquisitionRate(1000); err != nil {
		t.Fatal(err)
	}
	if err := nh.StartAcquisition(); err != nil {
		t.Fatal(err)
	}
	nh.Preload(BlockRows)
	buf := make([]float32, BlockFloats)
	n, err := nh.ReadBuffer(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != BlockFloats {
		t.Fatalf("read %d values, want %d", n, BlockFloats)
	}
	if got := buf[0]; got != CounterWrap-1 {
		t.Errorf("first counter %v, want %d", got, CounterWrap-1)
	}
	if got := buf[2*NumChannels]; got != 0 {
		t.Errorf("counter after wrap %v, want 0", got)
	}
}

func TestNoHardwareHandshakeOrder(t *testing.T) {
	nh := NewNoHardware(1)
	if _, err := nh.SetupCheck(); err == nil {
		t.Error("SetupCheck before Init should fail")
	}
	if err := nh.StartAcquisition(); err == nil {
		t.Error("StartAcquisition before Init should fail")
	}
	if err := nh.Init(); err != nil {
		t.Fatal(err)
	}
	if err := nh.StartAcquisition(); err == nil {
		t.Error("StartAcquisition without a rate should fail")
	}
	if err := nh.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := nh.Init(); err == nil {
		t.Error("Init after Shutdown should fail")
	}
}
