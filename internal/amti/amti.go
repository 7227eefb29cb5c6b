// Package amti provides an interface to the AMTI USB Device SDK, which
// drives AMTI force platforms (e.g. the AccuGait Optimized) through the
// vendor's AMTIUSBDevice library. Exports the Interfacer call surface, an
// exclusive Session handle that performs the SDK's ordered bring-up and
// release procedures, and a SampleAcquirer that drains the device ring
// buffer, reconstructs timestamps and detects counter discontinuities.
// A NoHardware implementation of Interfacer allows everything above the
// vendor library to run without a force platform attached.
package amti

// NumChannels is the width of one sample row in fully-conditioned,
// 8-value data format: counter, Fx, Fy, Fz, Mx, My, Mz, trigger.
const NumChannels = 8

// BlockRows is how many rows the vendor library hands out per non-empty
// buffer read.
const BlockRows = 16

// BlockFloats is the raw read granule in float32 values.
const BlockFloats = NumChannels * BlockRows

// CounterWrap is the largest value of the sample counter channel. The
// counter rolls over to 0 after this value, per the SDK's documentation
// of the 8-value data format. The rollover is not a data gap.
const CounterWrap = 1<<24 - 1

// RingCapacityRows is the approximate capacity of the device-side ring
// buffer. Unread samples are overwritten once it fills, so hosts must
// poll often enough to stay below this backlog.
const RingCapacityRows = 10000

// RunMode selects the device's conditioning and unit system.
type RunMode int

// FullyConditioned is metric, fully conditioned output: forces in
// newtons, moments in newton-meters (SDK section 21).
const FullyConditioned RunMode = 1

// DataFormat selects the per-sample value layout of buffer reads.
type DataFormat int

// Format8 is the 8-value layout: counter, 3 forces, 3 moments, trigger.
const Format8 DataFormat = 1

// Init-completion status codes accepted as "device ready".
const (
	initCompleteRunning = 1
	initCompleteDone    = 2
)

// Setup-check codes that do not indicate a fault:
// 0: no signal conditioners found, 1: setup matches the saved
// configuration, 214: configuration has changed (benign).
var acceptableSetupCodes = map[int]bool{0: true, 1: true, 214: true}

// ChannelNames returns the column names of one sample row, in order.
func ChannelNames() []string {
	return []string{"counter", "Fx", "Fy", "Fz", "Mx", "My", "Mz", "trigger"}
}

// Interfacer is the call surface of the AMTIUSBDevice library that the
// acquisition path needs. The real implementation wraps the vendor DLL
// (Windows only); NoHardware emulates it for tests and dry runs.
type Interfacer interface {
	// Init begins the library's asynchronous device initialization.
	Init() error
	// InitComplete reports the initialization status code.
	InitComplete() (int, error)
	// SetupCheck compares the current hardware setup to the saved one.
	SetupCheck() (int, error)
	// DeviceCount reports how many platforms the library found.
	DeviceCount() (int, error)
	// SelectDevice directs subsequent per-device calls at one platform.
	SelectDevice(index int) error
	// SetAcquisitionRate broadcasts the sampling rate in Hz.
	SetAcquisitionRate(hz int) error
	// SetRunMode broadcasts the conditioning/unit mode.
	SetRunMode(mode RunMode) error
	// SetDataFormat selects the per-sample value layout.
	SetDataFormat(format DataFormat) error
	// StartAcquisition broadcasts the acquisition start.
	StartAcquisition() error
	// Zero broadcasts a zeroing of all channels.
	Zero() error
	// StopAcquisition broadcasts the acquisition stop.
	StopAcquisition() error
	// Shutdown releases the library's device resources.
	Shutdown() error
	// ReadBuffer copies up to len(buf) raw float values out of the
	// device ring buffer and returns how many were copied, always a
	// multiple of NumChannels and 0 once the ring is drained.
	ReadBuffer(buf []float32) (int, error)
}

// BufferReader is the one capability SampleAcquirer needs. Interfacer
// satisfies it.
type BufferReader interface {
	ReadBuffer(buf []float32) (int, error)
}
