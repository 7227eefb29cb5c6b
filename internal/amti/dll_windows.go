//go:build windows

package amti

import (
	"fmt"
	"math"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/windows"
)

// dllDevice binds the AMTIUSBDevice library via lazy proc lookup. All SDK
// entry points use the cdecl int-returning convention except the three
// float-returning getters, which are decoded from the raw return word.
type dllDevice struct {
	dll *windows.LazyDLL

	init            *windows.LazyProc
	isInitComplete  *windows.LazyProc
	setupCheck      *windows.LazyProc
	getDeviceCount  *windows.LazyProc
	selectDevice    *windows.LazyProc
	broadcastRate   *windows.LazyProc
	broadcastMode   *windows.LazyProc
	setDataFormat   *windows.LazyProc
	broadcastStart  *windows.LazyProc
	broadcastZero   *windows.LazyProc
	broadcastStop   *windows.LazyProc
	shutDown        *windows.LazyProc
	getTheFloatData *windows.LazyProc

	dllGetRunMode      *windows.LazyProc
	dllGetGenlock      *windows.LazyProc
	dllGetRate         *windows.LazyProc
	getRunMode         *windows.LazyProc
	getRate            *windows.LazyProc
	getGains           *windows.LazyProc
	getExcitations     *windows.LazyProc
	getChannelOffsets  *windows.LazyProc
	getCableLength     *windows.LazyProc
	getMatrixMode      *windows.LazyProc
	getRotation        *windows.LazyProc
	getMechMaxMin      *windows.LazyProc
	getAnalogMaxMin    *windows.LazyProc
	getProductType     *windows.LazyProc
	getAmpModel        *windows.LazyProc
	getAmpSerial       *windows.LazyProc
	getAmpFirmware     *windows.LazyProc
	getAmpDate         *windows.LazyProc
	getGainTable       *windows.LazyProc
	getExcitationTable *windows.LazyProc
	getDACGains        *windows.LazyProc
	getDACOffsets      *windows.LazyProc
	getDACSens         *windows.LazyProc
	getADRef           *windows.LazyProc
	getPlatDate        *windows.LazyProc
	getPlatModel       *windows.LazyProc
	getPlatSerial      *windows.LazyProc
	getPlatLengthWidth *windows.LazyProc
	getPlatXYZOffsets  *windows.LazyProc
	getPlatXYZExt      *windows.LazyProc
	getPlatCapacity    *windows.LazyProc
	getBridgeRes       *windows.LazyProc
	getSensMatrix      *windows.LazyProc
}

// OpenDevice loads AMTIUSBDevice.dll from dllDir and binds the SDK entry
// points. Load failure is a device-unavailable error.
func OpenDevice(dllDir string) (Interfacer, error) {
	name := filepath.Join(dllDir, "AMTIUSBDevice.dll")
	dll := windows.NewLazyDLL(name)
	if err := dll.Load(); err != nil {
		return nil, fmt.Errorf("%w: loading %s: %v", ErrDeviceUnavailable, name, err)
	}
	d := &dllDevice{dll: dll}
	d.init = dll.NewProc("fmDLLInit")
	d.isInitComplete = dll.NewProc("fmDLLIsDeviceInitComplete")
	d.setupCheck = dll.NewProc("fmDLLSetupCheck")
	d.getDeviceCount = dll.NewProc("fmDLLGetDeviceCount")
	d.selectDevice = dll.NewProc("fmDLLSelectDeviceIndex")
	d.broadcastRate = dll.NewProc("fmBroadcastAcquisitionRate")
	d.broadcastMode = dll.NewProc("fmBroadcastRunMode")
	d.setDataFormat = dll.NewProc("fmDLLSetDataFormat")
	d.broadcastStart = dll.NewProc("fmBroadcastStart")
	d.broadcastZero = dll.NewProc("fmBroadcastZero")
	d.broadcastStop = dll.NewProc("fmBroadcastStop")
	d.shutDown = dll.NewProc("fmDLLShutDown")
	d.getTheFloatData = dll.NewProc("fmDLLGetTheFloatDataLBVStyle")

	d.dllGetRunMode = dll.NewProc("fmDLLGetRunMode")
	d.dllGetGenlock = dll.NewProc("fmDLLGetGenlock")
	d.dllGetRate = dll.NewProc("fmDLLGetAcquisitionRate")
	d.getRunMode = dll.NewProc("fmGetRunMode")
	d.getRate = dll.NewProc("fmGetAcquisitionRate")
	d.getGains = dll.NewProc("fmGetCurrentGains")
	d.getExcitations = dll.NewProc("fmGetCurrentExcitations")
	d.getChannelOffsets = dll.NewProc("fmGetChannelOffsetsTable")
	d.getCableLength = dll.NewProc("fmGetCableLength")
	d.getMatrixMode = dll.NewProc("fmGetMatrixMode")
	d.getRotation = dll.NewProc("fmGetPlatformRotation")
	d.getMechMaxMin = dll.NewProc("fmGetMechanicalMaxAndMin")
	d.getAnalogMaxMin = dll.NewProc("fmGetAnalogMaxAndMin")
	d.getProductType = dll.NewProc("fmGetProductType")
	d.getAmpModel = dll.NewProc("fmGetAmplifierModelNumber")
	d.getAmpSerial = dll.NewProc("fmGetAmplifierSerialNumber")
	d.getAmpFirmware = dll.NewProc("fmGetAmplifierFirmwareVersion")
	d.getAmpDate = dll.NewProc("fmGetAmplifierDate")
	d.getGainTable = dll.NewProc("fmGetGainTable")
	d.getExcitationTable = dll.NewProc("fmGetExcitationTable")
	d.getDACGains = dll.NewProc("fmGetDACGainsTable")
	d.getDACOffsets = dll.NewProc("fmGetDACOffsetTable")
	d.getDACSens = dll.NewProc("fmGetDACSensitivities")
	d.getADRef = dll.NewProc("fmGetADRef")
	d.getPlatDate = dll.NewProc("fmGetPlatformDate")
	d.getPlatModel = dll.NewProc("fmGetPlatformModelNumber")
	d.getPlatSerial = dll.NewProc("fmGetPlatformSerialNumber")
	d.getPlatLengthWidth = dll.NewProc("fmGetPlatformLengthAndWidth")
	d.getPlatXYZOffsets = dll.NewProc("fmGetPlatformXYZOffsets")
	d.getPlatXYZExt = dll.NewProc("fmGetPlatformXYZExtensions")
	d.getPlatCapacity = dll.NewProc("fmGetPlatformCapacity")
	d.getBridgeRes = dll.NewProc("fmGetPlatformBridgeResistance")
	d.getSensMatrix = dll.NewProc("fmGetInvertedSensitivityMatrix")
	return d, nil
}

func callInt(p *windows.LazyProc, args ...uintptr) (int, error) {
	if err := p.Find(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	r1, _, _ := p.Call(args...)
	return int(int32(r1)), nil
}

func callVoid(p *windows.LazyProc, args ...uintptr) error {
	_, err := callInt(p, args...)
	return err
}

func callFloat(p *windows.LazyProc, args ...uintptr) (float32, error) {
	r, err := callInt(p, args...)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(r)), nil
}

// Init implements Interfacer.
func (d *dllDevice) Init() error { return callVoid(d.init) }

// InitComplete implements Interfacer.
func (d *dllDevice) InitComplete() (int, error) { return callInt(d.isInitComplete) }

// SetupCheck implements Interfacer.
func (d *dllDevice) SetupCheck() (int, error) { return callInt(d.setupCheck) }

// DeviceCount implements Interfacer.
func (d *dllDevice) DeviceCount() (int, error) { return callInt(d.getDeviceCount) }

// SelectDevice implements Interfacer.
func (d *dllDevice) SelectDevice(index int) error {
	return callVoid(d.selectDevice, uintptr(index))
}

// SetAcquisitionRate implements Interfacer.
func (d *dllDevice) SetAcquisitionRate(hz int) error {
	return callVoid(d.broadcastRate, uintptr(hz))
}

// SetRunMode implements Interfacer.
func (d *dllDevice) SetRunMode(mode RunMode) error {
	return callVoid(d.broadcastMode, uintptr(mode))
}

// SetDataFormat implements Interfacer.
func (d *dllDevice) SetDataFormat(format DataFormat) error {
	return callVoid(d.setDataFormat, uintptr(format))
}

// StartAcquisition implements Interfacer.
func (d *dllDevice) StartAcquisition() error { return callVoid(d.broadcastStart) }

// Zero implements Interfacer.
func (d *dllDevice) Zero() error { return callVoid(d.broadcastZero) }

// StopAcquisition implements Interfacer.
func (d *dllDevice) StopAcquisition() error { return callVoid(d.broadcastStop) }

// Shutdown implements Interfacer.
func (d *dllDevice) Shutdown() error { return callVoid(d.shutDown) }

// ReadBuffer implements Interfacer. The library fills buf with up to
// len(buf) float values (a multiple of 8) and returns the value count.
func (d *dllDevice) ReadBuffer(buf []float32) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	return callInt(d.getTheFloatData,
		uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)*4))
}

func (d *dllDevice) readLongs(p *windows.LazyProc) ([6]int32, error) {
	var buf [64]int32
	if err := callVoid(p, uintptr(unsafe.Pointer(&buf[0]))); err != nil {
		return [6]int32{}, err
	}
	return [6]int32(buf[:6]), nil
}

func readFloats[T any](p *windows.LazyProc, take func([]float32) T) (T, error) {
	var out T
	var buf [64]float32
	if err := callVoid(p, uintptr(unsafe.Pointer(&buf[0]))); err != nil {
		return out, err
	}
	return take(buf[:]), nil
}

func (d *dllDevice) readString(p *windows.LazyProc) (string, error) {
	var buf [64]byte
	if err := callVoid(p, uintptr(unsafe.Pointer(&buf[0]))); err != nil {
		return "", err
	}
	return windows.ByteSliceToString(buf[:]), nil
}

// DLLRunMode implements DiagnosticSource.
func (d *dllDevice) DLLRunMode() (int, error) { return callInt(d.dllGetRunMode) }

// DLLAcquisitionRate implements DiagnosticSource.
func (d *dllDevice) DLLAcquisitionRate() (int, error) { return callInt(d.dllGetRate) }

// Genlock implements DiagnosticSource.
func (d *dllDevice) Genlock() (int, error) { return callInt(d.dllGetGenlock) }

// DeviceRunMode implements DiagnosticSource.
func (d *dllDevice) DeviceRunMode() (int, error) { return callInt(d.getRunMode) }

// DeviceAcquisitionRate implements DiagnosticSource.
func (d *dllDevice) DeviceAcquisitionRate() (int, error) { return callInt(d.getRate) }

// CurrentGains implements DiagnosticSource.
func (d *dllDevice) CurrentGains() ([6]int32, error) { return d.readLongs(d.getGains) }

// CurrentExcitations implements DiagnosticSource.
func (d *dllDevice) CurrentExcitations() ([6]int32, error) { return d.readLongs(d.getExcitations) }

// ChannelOffsets implements DiagnosticSource.
func (d *dllDevice) ChannelOffsets() ([6]float32, error) {
	return readFloats(d.getChannelOffsets, func(b []float32) [6]float32 { return [6]float32(b[:6]) })
}

// CableLength implements DiagnosticSource.
func (d *dllDevice) CableLength() (float32, error) { return callFloat(d.getCableLength) }

// MatrixMode implements DiagnosticSource.
func (d *dllDevice) MatrixMode() (int, error) { return callInt(d.getMatrixMode) }

// PlatformRotation implements DiagnosticSource.
func (d *dllDevice) PlatformRotation() (float32, error) { return callFloat(d.getRotation) }

// limits reads a 12-value max/min table; the SDK returns 1 once the
// values are valid, anything else means try again.
func (d *dllDevice) limits(p *windows.LazyProc) ([12]float32, error) {
	var buf [64]float32
	code, err := callInt(p, uintptr(unsafe.Pointer(&buf[0])))
	if err != nil {
		return [12]float32{}, err
	}
	if code != 1 {
		return [12]float32{}, fmt.Errorf("limits read returned %d", code)
	}
	return [12]float32(buf[:12]), nil
}

// MechanicalLimits implements DiagnosticSource.
func (d *dllDevice) MechanicalLimits() ([12]float32, error) { return d.limits(d.getMechMaxMin) }

// AnalogLimits implements DiagnosticSource.
func (d *dllDevice) AnalogLimits() ([12]float32, error) { return d.limits(d.getAnalogMaxMin) }

// ProductType implements DiagnosticSource.
func (d *dllDevice) ProductType() (int, error) { return callInt(d.getProductType) }

// AmplifierInfo implements DiagnosticSource.
func (d *dllDevice) AmplifierInfo() (AmplifierInfo, error) {
	var info AmplifierInfo
	var err error
	if info.ModelNumber, err = d.readString(d.getAmpModel); err != nil {
		return info, err
	}
	if info.SerialNumber, err = d.readString(d.getAmpSerial); err != nil {
		return info, err
	}
	if info.FirmwareVersion, err = d.readString(d.getAmpFirmware); err != nil {
		return info, err
	}
	info.CalibrationDate, err = d.readString(d.getAmpDate)
	return info, err
}

// GainTable implements DiagnosticSource.
func (d *dllDevice) GainTable() ([24]float32, error) {
	return readFloats(d.getGainTable, func(b []float32) [24]float32 { return [24]float32(b[:24]) })
}

// ExcitationTable implements DiagnosticSource.
func (d *dllDevice) ExcitationTable() ([18]float32, error) {
	return readFloats(d.getExcitationTable, func(b []float32) [18]float32 { return [18]float32(b[:18]) })
}

// DACGains implements DiagnosticSource.
func (d *dllDevice) DACGains() ([6]float32, error) {
	return readFloats(d.getDACGains, func(b []float32) [6]float32 { return [6]float32(b[:6]) })
}

// DACOffsets implements DiagnosticSource.
func (d *dllDevice) DACOffsets() ([6]float32, error) {
	return readFloats(d.getDACOffsets, func(b []float32) [6]float32 { return [6]float32(b[:6]) })
}

// DACSensitivities implements DiagnosticSource.
func (d *dllDevice) DACSensitivities() ([6]float32, error) {
	return readFloats(d.getDACSens, func(b []float32) [6]float32 { return [6]float32(b[:6]) })
}

// ADRef implements DiagnosticSource.
func (d *dllDevice) ADRef() (float32, error) { return callFloat(d.getADRef) }

// PlatformInfo implements DiagnosticSource.
func (d *dllDevice) PlatformInfo() (PlatformInfo, error) {
	var info PlatformInfo
	var err error
	if info.CalibrationDate, err = d.readString(d.getPlatDate); err != nil {
		return info, err
	}
	if info.ModelNumber, err = d.readString(d.getPlatModel); err != nil {
		return info, err
	}
	if info.SerialNumber, err = d.readString(d.getPlatSerial); err != nil {
		return info, err
	}
	var length, width [64]byte
	if err = callVoid(d.getPlatLengthWidth,
		uintptr(unsafe.Pointer(&length[0])), uintptr(unsafe.Pointer(&width[0]))); err != nil {
		return info, err
	}
	info.Length = windows.ByteSliceToString(length[:])
	info.Width = windows.ByteSliceToString(width[:])
	return info, nil
}

// PlatformXYZOffsets implements DiagnosticSource.
func (d *dllDevice) PlatformXYZOffsets() ([3]float32, error) {
	return readFloats(d.getPlatXYZOffsets, func(b []float32) [3]float32 { return [3]float32(b[:3]) })
}

// PlatformXYZExtensions implements DiagnosticSource.
func (d *dllDevice) PlatformXYZExtensions() ([3]float32, error) {
	return readFloats(d.getPlatXYZExt, func(b []float32) [3]float32 { return [3]float32(b[:3]) })
}

// PlatformCapacity implements DiagnosticSource.
func (d *dllDevice) PlatformCapacity() ([6]float32, error) {
	return readFloats(d.getPlatCapacity, func(b []float32) [6]float32 { return [6]float32(b[:6]) })
}

// BridgeResistance implements DiagnosticSource.
func (d *dllDevice) BridgeResistance() ([6]float32, error) {
	return readFloats(d.getBridgeRes, func(b []float32) [6]float32 { return [6]float32(b[:6]) })
}

// SensitivityMatrix implements DiagnosticSource.
func (d *dllDevice) SensitivityMatrix() ([36]float32, error) {
	return readFloats(d.getSensMatrix, func(b []float32) [36]float32 { return [36]float32(b[:36]) })
}
