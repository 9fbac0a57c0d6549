package qislog

import (
	"time"
)

// Event represents a capture event recorded at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates traffic flow relative to this process.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// DeviceID is the device the traffic concerns, when known.
	DeviceID string `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Command     *CommandEvent     `cbor:"8,keyasint,omitempty"`  // Wire layer, outgoing
	Response    *ResponseEvent    `cbor:"9,keyasint,omitempty"`  // Wire layer, incoming
	StreamRow   *StreamRowEvent   `cbor:"10,keyasint,omitempty"` // Stream layer
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"` // Session layer
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of traffic flow.
type Direction uint8

const (
	// DirectionIn indicates traffic received from QIS.
	DirectionIn Direction = 0
	// DirectionOut indicates traffic sent to QIS.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerWire is the command/response layer on the control connection.
	LayerWire Layer = 0
	// LayerStream is the measurement-row layer on a data connection.
	LayerStream Layer = 1
	// LayerSession is the connection/stream lifecycle layer.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerWire:
		return "WIRE"
	case LayerStream:
		return "STREAM"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a command or response.
	CategoryMessage Category = 0
	// CategoryData indicates a stream measurement row.
	CategoryData Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryData:
		return "DATA"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MaxCapturedText is the maximum payload text captured per event.
// Longer payloads are truncated to keep capture files bounded.
const MaxCapturedText = 4096

// CommandEvent captures a command sent on the control connection.
type CommandEvent struct {
	// Text is the command line as sent, without the terminator.
	Text string `cbor:"1,keyasint"`
}

// ResponseEvent captures a response block from the control connection.
type ResponseEvent struct {
	// Size is the response payload size in bytes.
	Size int `cbor:"1,keyasint"`

	// Lines is the number of payload lines.
	Lines int `cbor:"2,keyasint"`

	// Failed indicates a FAIL response.
	Failed bool `cbor:"3,keyasint,omitempty"`

	// Text is the response payload (may be truncated).
	Text string `cbor:"4,keyasint,omitempty"`

	// Truncated indicates Text was truncated.
	Truncated bool `cbor:"5,keyasint,omitempty"`

	// Latency is the duration from command send to response receipt.
	Latency *time.Duration `cbor:"6,keyasint,omitempty"`
}

// StreamRowEvent captures a measurement row on a data connection.
type StreamRowEvent struct {
	// Sequence is the row index within the stream, starting at 0.
	Sequence uint64 `cbor:"1,keyasint"`

	// Size is the row size in bytes.
	Size int `cbor:"2,keyasint"`

	// Text is the raw row (may be truncated).
	Text string `cbor:"3,keyasint,omitempty"`

	// Truncated indicates Text was truncated.
	Truncated bool `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures connection and stream lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a control-connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityStream indicates a stream state change.
	StateEntityStream StateEntity = 1
	// StateEntityService indicates a QIS service state change.
	StateEntityService StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityStream:
		return "STREAM"
	case StateEntityService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}

// Truncate limits s to MaxCapturedText bytes and reports whether it
// was shortened.
func Truncate(s string) (string, bool) {
	if len(s) <= MaxCapturedText {
		return s, false
	}
	return s[:MaxCapturedText], true
}
