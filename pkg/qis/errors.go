package qis

import (
	"errors"
	"fmt"
)

// Client errors.
var (
	// ErrConnectionClosed indicates the connection has been closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrEmptyCommand indicates an empty command line.
	ErrEmptyCommand = errors.New("command is empty")

	// ErrMultilineCommand indicates a command containing line breaks.
	ErrMultilineCommand = errors.New("command contains line break")

	// ErrTruncatedResponse indicates the connection ended mid-response.
	ErrTruncatedResponse = errors.New("response truncated")

	// ErrResponseTooLarge indicates the response exceeds the maximum size.
	ErrResponseTooLarge = errors.New("response too large")

	// ErrServiceNotRunning indicates no QIS service is reachable.
	ErrServiceNotRunning = errors.New("qis service not running")
)

// CommandError is returned when QIS answers a command with a FAIL response.
type CommandError struct {
	// Command is the command line that failed.
	Command string

	// Code is the failure code as reported by QIS (e.g. "0x02"), if present.
	Code string

	// Message is the failure text.
	Message string
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("qis: command %q failed: %s - %s", e.Command, e.Code, e.Message)
	}
	return fmt.Sprintf("qis: command %q failed: %s", e.Command, e.Message)
}
