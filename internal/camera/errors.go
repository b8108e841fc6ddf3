package camera

import "errors"

// Sentinel errors for capture and recording failures. Use errors.Is for
// typed assertions.
var (
	// ErrDeviceUnavailable indicates no camera index could be opened, or the
	// opened device failed its initial test read. Fatal to capture start.
	ErrDeviceUnavailable = errors.New("camera device unavailable")

	// ErrAlreadyRecording indicates a segment recording is already in flight.
	ErrAlreadyRecording = errors.New("already recording")

	// ErrEmptySegment indicates a recording completed with zero frames
	// written; the partial artifact has been discarded.
	ErrEmptySegment = errors.New("empty segment")

	// ErrNotRunning indicates the capture loop is not active.
	ErrNotRunning = errors.New("capture not running")
)
