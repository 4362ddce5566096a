package setup

import "errors"

var (
	// ErrNotReady reports a device that could not be brought online yet.
	// It wraps discovery.ErrTimeout or ErrDeviceNotResponding; both are
	// recoverable by retrying later.
	ErrNotReady = errors.New("device not ready")

	// ErrDeviceNotResponding reports a device that was found but failed its first refresh
	ErrDeviceNotResponding = errors.New("device found but not responding")

	// ErrAlreadyLoaded is returned when an entry id is already registered
	ErrAlreadyLoaded = errors.New("entry already loaded")

	// ErrClosed is returned by Setup after Close
	ErrClosed = errors.New("orchestrator is closed")
)
