// Package commands implements the qis-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/quarchtech/qis-go/pkg/qislog"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *qislog.Layer
	Direction *qislog.Direction
	Category  *qislog.Category
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event qislog.Event) {
	// Header line: timestamp [conn:id] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)
	dir := event.Direction.String()

	// Determine event type label
	var typeLabel string
	switch {
	case event.Command != nil:
		typeLabel = "Command"
	case event.Response != nil:
		typeLabel = "Response"
	case event.StreamRow != nil:
		typeLabel = "Row"
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n", ts, connID, dir, event.Layer, typeLabel)

	if event.DeviceID != "" {
		fmt.Fprintf(w, "  Device: %s\n", event.DeviceID)
	}

	// Type-specific details
	switch {
	case event.Command != nil:
		formatCommandDetails(w, event.Command)
	case event.Response != nil:
		formatResponseDetails(w, event.Response)
	case event.StreamRow != nil:
		formatStreamRowDetails(w, event.StreamRow)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// formatCommandDetails writes command-specific details.
func formatCommandDetails(w io.Writer, cmd *qislog.CommandEvent) {
	fmt.Fprintf(w, "  Command: %s\n", cmd.Text)
}

// formatResponseDetails writes response-specific details.
func formatResponseDetails(w io.Writer, resp *qislog.ResponseEvent) {
	fmt.Fprintf(w, "  Size: %d bytes (%d lines)\n", resp.Size, resp.Lines)
	if resp.Failed {
		fmt.Fprintln(w, "  Status: FAILED")
	}
	if resp.Latency != nil {
		fmt.Fprintf(w, "  Latency: %s\n", formatDuration(*resp.Latency))
	}
	if resp.Text != "" {
		fmt.Fprintf(w, "  Response: %s", resp.Text)
		if resp.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

// formatStreamRowDetails writes stream row details.
func formatStreamRowDetails(w io.Writer, row *qislog.StreamRowEvent) {
	fmt.Fprintf(w, "  Sequence: %d\n", row.Sequence)
	if row.Text != "" {
		fmt.Fprintf(w, "  Row: %s", row.Text)
		if row.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

// formatStateChangeDetails writes state change details.
func formatStateChangeDetails(w io.Writer, sc *qislog.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

// formatErrorDetails writes error details.
func formatErrorDetails(w io.Writer, err *qislog.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (qislog.Layer, error) {
	return parseLayer(s)
}

// parseLayer parses a layer string (case-insensitive).
func parseLayer(s string) (qislog.Layer, error) {
	switch strings.ToLower(s) {
	case "wire":
		return qislog.LayerWire, nil
	case "stream":
		return qislog.LayerStream, nil
	case "session":
		return qislog.LayerSession, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be wire, stream, or session)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (qislog.Direction, error) {
	return parseDirection(s)
}

// parseDirection parses a direction string (case-insensitive).
func parseDirection(s string) (qislog.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return qislog.DirectionIn, nil
	case "out":
		return qislog.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (qislog.Category, error) {
	return parseCategory(s)
}

// parseCategory parses a category string (case-insensitive).
func parseCategory(s string) (qislog.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return qislog.CategoryMessage, nil
	case "data":
		return qislog.CategoryData, nil
	case "state":
		return qislog.CategoryState, nil
	case "error":
		return qislog.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, data, state, or error)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := qislog.NewFilteredReader(path, qislog.Filter{
		Layer:     filter.Layer,
		Direction: filter.Direction,
		Category:  filter.Category,
	})
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		formatEvent(output, event)
	}

	return nil
}
