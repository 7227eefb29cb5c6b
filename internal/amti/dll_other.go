//go:build !windows

package amti

// OpenDevice would load AMTIUSBDevice.dll, which exists only for
// Windows. On every other platform the device is unsupported; use
// NoHardware for development and tests.
func OpenDevice(dllDir string) (Interfacer, error) {
	return nil, ErrPlatformUnsupported
}
