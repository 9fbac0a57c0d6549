package device

import (
	"strings"
)

// StreamStatus is the parsed result of a "stream?" poll.
type StreamStatus int

const (
	// StatusUnknown means the status line could not be interpreted.
	StatusUnknown StreamStatus = iota

	// StatusRunning means the stream is capturing.
	StatusRunning

	// StatusStoppedUser means the stream was stopped deliberately
	// (rec stop or the configured duration elapsed).
	StatusStoppedUser

	// StatusStoppedOverrun means the device's internal buffer filled up
	// and the stream was interrupted.
	StatusStoppedOverrun

	// StatusStoppedUnknown means the stream stopped for an
	// unrecognized reason.
	StatusStoppedUnknown
)

// ParseStreamStatus interprets a "stream?" response line.
func ParseStreamStatus(text string) StreamStatus {
	if text == "" {
		return StatusUnknown
	}
	if !strings.Contains(text, "Stopped") {
		return StatusRunning
	}
	switch {
	case strings.Contains(text, "Overrun"):
		return StatusStoppedOverrun
	case strings.Contains(text, "User"):
		return StatusStoppedUser
	default:
		return StatusStoppedUnknown
	}
}

// Running reports whether the stream is still capturing.
func (s StreamStatus) Running() bool {
	return s == StatusRunning
}

// Stopped reports whether the stream has ended, for any reason.
func (s StreamStatus) Stopped() bool {
	return s == StatusStoppedUser || s == StatusStoppedOverrun || s == StatusStoppedUnknown
}

// String returns the status name.
func (s StreamStatus) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusStoppedUser:
		return "STOPPED_USER"
	case StatusStoppedOverrun:
		return "STOPPED_OVERRUN"
	case StatusStoppedUnknown:
		return "STOPPED_UNKNOWN"
	default:
		return "UNKNOWN"
	}
}

// Describe returns the operator-facing explanation of a final status.
func (s StreamStatus) Describe() string {
	switch s {
	case StatusRunning:
		return "stream ran correctly"
	case StatusStoppedUser:
		return "stream stopped"
	case StatusStoppedOverrun:
		return "stream interrupted due to internal device buffer filling up"
	default:
		return "stopped for unknown reason"
	}
}
