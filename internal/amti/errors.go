package amti

import "errors"

// Fatal error categories of the acquisition path. All are unrecoverable
// at the point of detection; callers match with errors.Is.
var (
	// ErrUnsupportedRate means the requested sampling rate is not one of
	// the rates the platform supports. Raised before any device call.
	ErrUnsupportedRate = errors.New("unsupported sampling rate")

	// ErrPlatformUnsupported means this host OS cannot load the vendor
	// library. Checked before any other bring-up step.
	ErrPlatformUnsupported = errors.New("AMTIUSBDevice is supported on Windows only")

	// ErrDeviceUnavailable means the vendor library failed to load or
	// reported zero attached platforms.
	ErrDeviceUnavailable = errors.New("no AMTI device available")

	// ErrInitTimeout means the bounded init-completion poll exhausted
	// its retries without the library reporting ready.
	ErrInitTimeout = errors.New("device initialization did not complete")

	// ErrSetupValidation means the library's setup check returned a
	// status code outside the documented acceptable set.
	ErrSetupValidation = errors.New("setup check failed")

	// ErrSessionActive means a live Session already owns the vendor
	// library; only one may exist at a time.
	ErrSessionActive = errors.New("an AMTI session is already active in this process")

	// ErrSessionReleased means the one-shot Session was used after
	// Release.
	ErrSessionReleased = errors.New("session has been released")
)
