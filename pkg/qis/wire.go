package qis

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// Wire protocol constants.
const (
	// CommandTerminator ends every command line.
	CommandTerminator = "\r\n"

	// PromptLine is the line that terminates a response block.
	// The prompt is not part of the response payload.
	PromptLine = ">"

	// DefaultMaxResponseSize is the default maximum response payload (1 MB).
	DefaultMaxResponseSize = 1 << 20

	// failPrefix marks an error response.
	failPrefix = "FAIL"
)

// writeCommand writes a single command line with the CRLF terminator.
func writeCommand(w io.Writer, cmd string) error {
	if cmd == "" {
		return ErrEmptyCommand
	}
	if strings.ContainsAny(cmd, "\r\n") {
		return ErrMultilineCommand
	}

	if _, err := io.WriteString(w, cmd+CommandTerminator); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	return nil
}

// readResponse reads payload lines until the prompt line.
// The returned payload has lines joined by "\n" without the prompt.
func readResponse(br *bufio.Reader, maxSize int) (string, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxResponseSize
	}

	var sb strings.Builder
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
				return "", ErrTruncatedResponse
			}
			return "", fmt.Errorf("failed to read response: %w", err)
		}

		line = trimLine(line)
		if line == PromptLine {
			return sb.String(), nil
		}

		if sb.Len()+len(line) > maxSize {
			return "", fmt.Errorf("%w: > %d bytes", ErrResponseTooLarge, maxSize)
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(line)
	}
}

// trimLine strips the CRLF terminator from a received line.
func trimLine(line string) string {
	return strings.TrimRight(line, "\r\n")
}

// ParseFailure returns a CommandError if the payload is a FAIL response,
// nil otherwise. The failing command is filled in by the caller. QIS
// reports failures on data connections with the same FAIL line it uses
// on the control connection, so stream openers check their first line
// with this too.
func ParseFailure(payload string) *CommandError {
	first, _, _ := strings.Cut(payload, "\n")
	if !strings.HasPrefix(first, failPrefix) {
		return nil
	}

	rest := strings.TrimPrefix(first, failPrefix)
	rest = strings.TrimLeft(rest, ": ")

	// "0x02 - Unknown command" or a bare message
	if code, msg, ok := strings.Cut(rest, " - "); ok && strings.HasPrefix(code, "0x") {
		return &CommandError{Code: code, Message: strings.TrimSpace(msg)}
	}
	return &CommandError{Message: strings.TrimSpace(rest)}
}

// parseDeviceList parses a $scan or $list response payload into device
// identifiers. QIS formats entries as "1) TCP:QTL2789-01-001"; bare
// identifiers are accepted too.
func parseDeviceList(payload string) []string {
	var devices []string
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "No devices") {
			continue
		}
		// Strip the "N)" ordinal if present
		if _, rest, ok := strings.Cut(line, ") "); ok {
			line = rest
		}
		devices = append(devices, strings.TrimSpace(line))
	}
	return devices
}
