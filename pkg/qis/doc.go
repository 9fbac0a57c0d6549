// Package qis provides the client for the Quarch Instrument Service (QIS).
//
// QIS is a local TCP service that proxies command and streaming traffic
// for Quarch power modules. The wire protocol is line-oriented ASCII:
//
//	┌────────────────────────────────┐
//	│   Commands / CSV stream rows   │
//	├────────────────────────────────┤
//	│   CRLF line framing, ">" prompt│
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// A command is a single line terminated by CRLF. The response is zero or
// more text lines followed by a prompt line consisting of exactly ">".
// Responses whose first line begins with "FAIL" report a command error.
// Service-level commands start with "$" ($version, $scan, $list,
// $shutdown); device commands are prefixed with the device identifier.
//
// Connections come in two kinds:
//   - control connections (Conn) for command/response traffic
//   - data connections (StreamConn) which are switched into streaming
//     mode and then deliver a channel header line followed by CSV
//     measurement rows until the stream ends
//
// The package also provides a Launcher for starting a local QIS process
// when none is running, and a Backoff helper used when waiting for the
// service port to come up.
package qis
