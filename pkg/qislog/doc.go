// Package qislog provides structured protocol capture for QIS traffic.
//
// This package defines the Logger interface and Event types for recording
// everything that crosses a QIS connection: commands, responses, stream
// rows and lifecycle changes. It is separate from operational logging
// (slog) - a capture file is a complete machine-readable trace of a run,
// suitable for replay and offline analysis.
//
// # Basic Usage
//
// Components accept a Logger; applications choose the implementation:
//
//	// For development: mirror events to the console via slog
//	cfg.ProtocolLogger = qislog.NewSlogAdapter(slog.Default())
//
//	// For a capture file
//	cfg.ProtocolLogger, _ = qislog.NewFileLogger("run.qlog")
//
//	// Both at once
//	cfg.ProtocolLogger = qislog.NewMultiLogger(
//	    qislog.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at three layers:
//   - Wire: command and response text on the control connection
//   - Stream: measurement rows on a data connection
//   - Session: connection and stream state changes
//
// Errors at any layer have a dedicated event type.
//
// # File Format
//
// Capture files use CBOR encoding with the .qlog extension. Reader
// iterates a file with optional filtering.
package qislog
