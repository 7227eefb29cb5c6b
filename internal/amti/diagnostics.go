package amti

import "time"

// DiagnosticSource is the optional identity/calibration surface of the
// vendor library. The snapshot it feeds is informational: hosts attach it
// once as metadata to the first published batch.
type DiagnosticSource interface {
	DLLRunMode() (int, error)
	DLLAcquisitionRate() (int, error)
	Genlock() (int, error)

	DeviceRunMode() (int, error)
	DeviceAcquisitionRate() (int, error)
	CurrentGains() ([6]int32, error)
	CurrentExcitations() ([6]int32, error)
	ChannelOffsets() ([6]float32, error)
	CableLength() (float32, error)
	MatrixMode() (int, error)
	PlatformRotation() (float32, error)

	// The two limits reads are flaky on real hardware and are polled
	// with a bounded retry.
	MechanicalLimits() ([12]float32, error)
	AnalogLimits() ([12]float32, error)

	ProductType() (int, error)
	AmplifierInfo() (AmplifierInfo, error)
	GainTable() ([24]float32, error)
	ExcitationTable() ([18]float32, error)
	DACGains() ([6]float32, error)
	DACOffsets() ([6]float32, error)
	DACSensitivities() ([6]float32, error)
	ADRef() (float32, error)

	PlatformInfo() (PlatformInfo, error)
	PlatformXYZOffsets() ([3]float32, error)
	PlatformXYZExtensions() ([3]float32, error)
	PlatformCapacity() ([6]float32, error)
	BridgeResistance() ([6]float32, error)
	SensitivityMatrix() ([36]float32, error)
}

// AmplifierInfo identifies the signal conditioner.
type AmplifierInfo struct {
	ModelNumber     string
	SerialNumber    string
	FirmwareVersion string
	CalibrationDate string
}

// PlatformInfo identifies the force platform itself.
type PlatformInfo struct {
	ModelNumber     string
	SerialNumber    string
	CalibrationDate string
	Length          string
	Width           string
}

// GeneralDiagnostics holds the library-level status fields.
type GeneralDiagnostics struct {
	InitComplete    int
	SetupCheck      int
	DeviceCount     int
	RunMode         int
	Genlock         int
	AcquisitionRate int
}

// ConditionerConfig is the per-device signal conditioner configuration.
type ConditionerConfig struct {
	Gains            [6]int32
	Excitations      [6]int32
	ChannelOffsets   [6]float32
	CableLength      float32
	MatrixMode       int
	PlatformRotation float32
}

// ConditionerLimits pairs mechanical and analog max/min per channel.
type ConditionerLimits struct {
	MechanicalMaxAndMin [12]float32
	AnalogMaxAndMin     [12]float32
}

// ConditionerCalibration is the amplifier's factory calibration.
type ConditionerCalibration struct {
	ProductType      int
	Amplifier        AmplifierInfo
	GainTable        [24]float32
	ExcitationTable  [18]float32
	DACGains         [6]float32
	DACOffsets       [6]float32
	DACSensitivities [6]float32
	ADRef            float32
}

// PlatformCalibration is the platform's factory calibration.
type PlatformCalibration struct {
	Info              PlatformInfo
	XYZOffsets        [3]float32
	XYZExtensions     [3]float32
	Capacity          [6]float32
	BridgeResistance  [6]float32
	SensitivityMatrix [36]float32
}

// DeviceDiagnostics gathers everything readable from one platform.
type DeviceDiagnostics struct {
	Index           int
	RunMode         int
	AcquisitionRate int
	Config          ConditionerConfig
	Limits          ConditionerLimits
	Conditioner     ConditionerCalibration
	Platform        PlatformCalibration
}

// Diagnostics is the one-time snapshot collected during bring-up.
type Diagnostics struct {
	General GeneralDiagnostics
	Devices []DeviceDiagnostics
}

const (
	diagRetries   = 3
	diagRetryWait = 1 * time.Second
)

// retry runs f up to 1+retries times, sleeping wait between attempts,
// and returns the final error (nil on success).
func retry(retries int, wait time.Duration, sleep func(time.Duration), f func() error) error {
	err := f()
	for err != nil && retries > 0 {
		sleep(wait)
		err = f()
		retries--
	}
	return err
}

// CollectDiagnostics reads the library-level status and the per-device
// configuration, limits and calibrations for all ndevices platforms.
// Individual read failures leave zero values rather than aborting: the
// snapshot is best-effort and must never block bring-up.
func CollectDiagnostics(ifc Interfacer, ds DiagnosticSource, ndevices int, sleep func(time.Duration)) *Diagnostics {
	d := &Diagnostics{}
	d.General.InitComplete, _ = ifc.InitComplete()
	d.General.SetupCheck, _ = ifc.SetupCheck()
	d.General.DeviceCount = ndevices
	d.General.RunMode, _ = ds.DLLRunMode()
	d.General.Genlock, _ = ds.Genlock()
	d.General.AcquisitionRate, _ = ds.DLLAcquisitionRate()

	for dev := 0; dev < ndevices; dev++ {
		if err := ifc.SelectDevice(dev); err != nil {
			continue
		}
		info := DeviceDiagnostics{Index: dev}
		info.RunMode, _ = ds.DeviceRunMode()
		info.AcquisitionRate, _ = ds.DeviceAcquisitionRate()

		info.Config.Gains, _ = ds.CurrentGains()
		info.Config.Excitations, _ = ds.CurrentExcitations()
		info.Config.ChannelOffsets, _ = ds.ChannelOffsets()
		info.Config.CableLength, _ = ds.CableLength()
		info.Config.MatrixMode, _ = ds.MatrixMode()
		info.Config.PlatformRotation, _ = ds.PlatformRotation()

		retry(diagRetries, diagRetryWait, sleep, func() error {
			limits, err := ds.MechanicalLimits()
			if err == nil {
				info.Limits.MechanicalMaxAndMin = limits
			}
			return err
		})
		retry(diagRetries, diagRetryWait, sleep, func() error {
			limits, err := ds.AnalogLimits()
			if err == nil {
				info.Limits.AnalogMaxAndMin = limits
			}
			return err
		})

		info.Conditioner.ProductType, _ = ds.ProductType()
		info.Conditioner.Amplifier, _ = ds.AmplifierInfo()
		info.Conditioner.GainTable, _ = ds.GainTable()
		info.Conditioner.ExcitationTable, _ = ds.ExcitationTable()
		info.Conditioner.DACGains, _ = ds.DACGains()
		info.Conditioner.DACOffsets, _ = ds.DACOffsets()
		info.Conditioner.DACSensitivities, _ = ds.DACSensitivities()
		info.Conditioner.ADRef, _ = ds.ADRef()

		info.Platform.Info, _ = ds.PlatformInfo()
		info.Platform.XYZOffsets, _ = ds.PlatformXYZOffsets()
		info.Platform.XYZExtensions, _ = ds.PlatformXYZExtensions()
		info.Platform.Capacity, _ = ds.PlatformCapacity()
		info.Platform.BridgeResistance, _ = ds.BridgeResistance()
		info.Platform.SensitivityMatrix, _ = ds.SensitivityMatrix()

		d.Devices = append(d.Devices, info)
	}
	return d
}
