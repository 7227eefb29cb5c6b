package amti

import (
	"fmt"
	"math"
	"time"
)

// NoHardware is a drop-in replacement for the vendor library (implements
// Interfacer and DiagnosticSource) that requires no force platform. It
// produces counter-stamped rows paced by the wall clock at the configured
// rate, honors the bring-up call ordering, and offers test hooks to
// script handshake status codes and to corrupt the counter sequence.
type NoHardware struct {
	ndevices  int
	rate      int
	selected  int
	amplitude float64

	initCalled bool
	acquiring  bool
	isShutdown bool

	initCodes []int // successive InitComplete returns; last repeats
	initPolls int
	setupCode int

	counter  uint32  // counter value of the next generated row
	owed     float64 // fractional rows accrued since the last read
	preload  int     // rows available immediately, regardless of pacing
	lastRead time.Time
	clock    func() time.Time
}

// NewNoHardware returns a simulator reporting ndevices attached
// platforms, ready on the first init poll, with a passing setup check.
func NewNoHardware(ndevices int) *NoHardware {
	return &NoHardware{
		ndevices:  ndevices,
		amplitude: 100,
		initCodes: []int{initCompleteDone},
		setupCode: 1,
		clock:     time.Now,
	}
}

// ScriptInitCodes sets the successive InitComplete status codes; the last
// one repeats once the script is exhausted.
func (nh *NoHardware) ScriptInitCodes(codes ...int) { nh.initCodes = codes; nh.initPolls = 0 }

// ScriptSetupCode sets the SetupCheck return code.
func (nh *NoHardware) ScriptSetupCode(code int) { nh.setupCode = code }

// SetAmplitude sets the peak value of the generated force channels.
func (nh *NoHardware) SetAmplitude(a float64) { nh.amplitude = a }

// SetClock replaces the pacing clock, letting tests generate rows without
// real waiting.
func (nh *NoHardware) SetClock(clock func() time.Time) { nh.clock = clock }

// SetCounter presets the counter of the next generated row, e.g. just
// below CounterWrap to exercise the rollover.
func (nh *NoHardware) SetCounter(c uint32) { nh.counter = c & CounterWrap }

// InjectGap skips n counter values before the next generated row,
// mimicking a ring-buffer overwrite.
func (nh *NoHardware) InjectGap(n uint32) { nh.counter = (nh.counter + n) & CounterWrap }

// Preload makes n rows immediately available regardless of elapsed time.
func (nh *NoHardware) Preload(n int) { nh.preload += n }

func (nh *NoHardware) check(op string) error {
	if nh.isShutdown {
		return fmt.Errorf("NoHardware.%s: library is shut down", op)
	}
	if !nh.initCalled {
		return fmt.Errorf("NoHardware.%s: Init not called", op)
	}
	return nil
}

// Init implements Interfacer.
func (nh *NoHardware) Init() error {
	if nh.isShutdown {
		return fmt.Errorf("NoHardware.Init: library is shut down")
	}
	nh.initCalled = true
	return nil
}

// InitComplete implements Interfacer, walking the scripted status codes.
func (nh *NoHardware) InitComplete() (int, error) {
	if err := nh.check("InitComplete"); err != nil {
		return 0, err
	}
	i := nh.initPolls
	if i >= len(nh.initCodes) {
		i = len(nh.initCodes) - 1
	}
	nh.initPolls++
	return nh.initCodes[i], nil
}

// SetupCheck implements Interfacer.
func (nh *NoHardware) SetupCheck() (int, error) {
	if err := nh.check("SetupCheck"); err != nil {
		return 0, err
	}
	return nh.setupCode, nil
}

// DeviceCount implements Interfacer.
func (nh *NoHardware) DeviceCount() (int, error) {
	if err := nh.check("DeviceCount"); err != nil {
		return 0, err
	}
	return nh.ndevices, nil
}

// SelectDevice implements Interfacer.
func (nh *NoHardware) SelectDevice(index int) error {
	if err := nh.check("SelectDevice"); err != nil {
		return err
	}
	if index < 0 || index >= nh.ndevices {
		return fmt.Errorf("NoHardware.SelectDevice: index %d of %d devices", index, nh.ndevices)
	}
	nh.selected = index
	return nil
}

// SetAcquisitionRate implements Interfacer.
func (nh *NoHardware) SetAcquisitionRate(hz int) error {
	if err := nh.check("SetAcquisitionRate"); err != nil {
		return err
	}
	nh.rate = hz
	return nil
}

// SetRunMode implements Interfacer.
func (nh *NoHardware) SetRunMode(mode RunMode) error { return nh.check("SetRunMode") }

// SetDataFormat implements Interfacer.
func (nh *NoHardware) SetDataFormat(format DataFormat) error { return nh.check("SetDataFormat") }

// StartAcquisition implements Interfacer.
func (nh *NoHardware) StartAcquisition() error {
	if err := nh.check("StartAcquisition"); err != nil {
		return err
	}
	if nh.acquiring {
		return fmt.Errorf("NoHardware.StartAcquisition: already acquiring")
	}
	if nh.rate <= 0 {
		return fmt.Errorf("NoHardware.StartAcquisition: no acquisition rate set")
	}
	nh.acquiring = true
	nh.lastRead = nh.clock()
	return nil
}

// Zero implements Interfacer.
func (nh *NoHardware) Zero() error { return nh.check("Zero") }

// StopAcquisition implements Interfacer.
func (nh *NoHardware) StopAcquisition() error {
	if err := nh.check("StopAcquisition"); err != nil {
		return err
	}
	if !nh.acquiring {
		return fmt.Errorf("NoHardware.StopAcquisition: not acquiring")
	}
	nh.acquiring = false
	return nil
}

// Shutdown implements Interfacer.
func (nh *NoHardware) Shutdown() error {
	if nh.isShutdown {
		return fmt.Errorf("NoHardware.Shutdown: already shut down")
	}
	nh.isShutdown = true
	nh.acquiring = false
	return nil
}

// ReadBuffer implements Interfacer. Rows become available in whole
// BlockRows granules, paced by the clock at the configured rate plus any
// preloaded rows; once the backlog is below one granule it returns 0.
func (nh *NoHardware) ReadBuffer(buf []float32) (int, error) {
	if err := nh.check("ReadBuffer"); err != nil {
		return 0, err
	}
	if !nh.acquiring {
		return 0, nil
	}
	now := nh.clock()
	nh.owed += now.Sub(nh.lastRead).Seconds() * float64(nh.rate)
	nh.lastRead = now
	if nh.owed > RingCapacityRows {
		// The real ring overwrites silently once full.
		nh.owed = RingCapacityRows
	}

	avail := nh.preload + int(nh.owed)
	rows := len(buf) / NumChannels
	if rows > BlockRows {
		rows = BlockRows
	}
	if avail < rows || rows == 0 {
		return 0, nil
	}
	taken := rows
	if nh.preload >= taken {
		nh.preload -= taken
	} else {
		nh.owed -= float64(taken - nh.preload)
		nh.preload = 0
	}
	for r := 0; r < rows; r++ {
		nh.fillRow(buf[r*NumChannels:])
	}
	return rows * NumChannels, nil
}

// fillRow writes one synthetic sample: a gentle sinusoid on Fz with small
// quadrature components elsewhere, zero trigger.
func (nh *NoHardware) fillRow(row []float32) {
	phase := 2 * math.Pi * float64(nh.counter) / float64(nh.rate)
	row[0] = float32(nh.counter)
	row[1] = float32(0.05 * nh.amplitude * math.Sin(phase))
	row[2] = float32(0.05 * nh.amplitude * math.Cos(phase))
	row[3] = float32(nh.amplitude * (1 + 0.1*math.Sin(phase/3)))
	row[4] = float32(0.01 * nh.amplitude * math.Sin(phase/2))
	row[5] = float32(0.01 * nh.amplitude * math.Cos(phase/2))
	row[6] = 0
	row[7] = 0
	nh.counter = (nh.counter + 1) & CounterWrap
}

// DLLRunMode implements DiagnosticSource.
func (nh *NoHardware) DLLRunMode() (int, error) { return int(FullyConditioned), nil }

// DLLAcquisitionRate implements DiagnosticSource.
func (nh *NoHardware) DLLAcquisitionRate() (int, error) { return nh.rate, nil }

// Genlock implements DiagnosticSource.
func (nh *NoHardware) Genlock() (int, error) { return 0, nil }

// DeviceRunMode implements DiagnosticSource.
func (nh *NoHardware) DeviceRunMode() (int, error) { return int(FullyConditioned), nil }

// DeviceAcquisitionRate implements DiagnosticSource.
func (nh *NoHardware) DeviceAcquisitionRate() (int, error) { return nh.rate, nil }

// CurrentGains implements DiagnosticSource.
func (nh *NoHardware) CurrentGains() ([6]int32, error) {
	return [6]int32{500, 500, 500, 500, 500, 500}, nil
}

// CurrentExcitations implements DiagnosticSource.
func (nh *NoHardware) CurrentExcitations() ([6]int32, error) {
	return [6]int32{10, 10, 10, 10, 10, 10}, nil
}

// ChannelOffsets implements DiagnosticSource.
func (nh *NoHardware) ChannelOffsets() ([6]float32, error) { return [6]float32{}, nil }

// CableLength implements DiagnosticSource.
func (nh *NoHardware) CableLength() (float32, error) { return 6.0, nil }

// MatrixMode implements DiagnosticSource.
func (nh *NoHardware) MatrixMode() (int, error) { return 0, nil }

// PlatformRotation implements DiagnosticSource.
func (nh *NoHardware) PlatformRotation() (float32, error) { return 0, nil }

// MechanicalLimits implements DiagnosticSource.
func (nh *NoHardware) MechanicalLimits() ([12]float32, error) { return [12]float32{}, nil }

// AnalogLimits implements DiagnosticSource.
func (nh *NoHardware) AnalogLimits() ([12]float32, error) { return [12]float32{}, nil }

// ProductType implements DiagnosticSource.
func (nh *NoHardware) ProductType() (int, error) { return 3, nil }

// AmplifierInfo implements DiagnosticSource.
func (nh *NoHardware) AmplifierInfo() (AmplifierInfo, error) {
	return AmplifierInfo{
		ModelNumber:     "SIM-AMP",
		SerialNumber:    "000000",
		FirmwareVersion: "0.0",
		CalibrationDate: "2000-01-01",
	}, nil
}

// GainTable implements DiagnosticSource.
func (nh *NoHardware) GainTable() ([24]float32, error) { return [24]float32{}, nil }

// ExcitationTable implements DiagnosticSource.
func (nh *NoHardware) ExcitationTable() ([18]float32, error) { return [18]float32{}, nil }

// DACGains implements DiagnosticSource.
func (nh *NoHardware) DACGains() ([6]float32, error) { return [6]float32{}, nil }

// DACOffsets implements DiagnosticSource.
func (nh *NoHardware) DACOffsets() ([6]float32, error) { return [6]float32{}, nil }

// DACSensitivities implements DiagnosticSource.
func (nh *NoHardware) DACSensitivities() ([6]float32, error) { return [6]float32{}, nil }

// ADRef implements DiagnosticSource.
func (nh *NoHardware) ADRef() (float32, error) { return 2.5, nil }

// PlatformInfo implements DiagnosticSource.
func (nh *NoHardware) PlatformInfo() (PlatformInfo, error) {
	return PlatformInfo{
		ModelNumber:     "SIM-AGO",
		SerialNumber:    "000000",
		CalibrationDate: "2000-01-01",
		Length:          "500",
		Width:           "500",
	}, nil
}

// PlatformXYZOffsets implements DiagnosticSource.
func (nh *NoHardware) PlatformXYZOffsets() ([3]float32, error) { return [3]float32{}, nil }

// PlatformXYZExtensions implements DiagnosticSource.
func (nh *NoHardware) PlatformXYZExtensions() ([3]float32, error) { return [3]float32{}, nil }

// PlatformCapacity implements DiagnosticSource.
func (nh *NoHardware) PlatformCapacity() ([6]float32, error) { return [6]float32{}, nil }

// BridgeResistance implements DiagnosticSource.
func (nh *NoHardware) BridgeResistance() ([6]float32, error) { return [6]float32{}, nil }

// SensitivityMatrix implements DiagnosticSource.
func (nh *NoHardware) SensitivityMatrix() ([36]float32, error) { return [36]float32{}, nil }
