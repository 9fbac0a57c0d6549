package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quarchtech/qis-go/pkg/qislog"
)

func createTestLogFile(t *testing.T, events []qislog.Event) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.qlog")

	logger, err := qislog.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func TestExportToJSONL(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	events := []qislog.Event{
		{
			Timestamp:    ts,
			ConnectionID: "conn-1",
			Direction:    qislog.DirectionOut,
			Layer:        qislog.LayerWire,
			Category:     qislog.CategoryMessage,
			DeviceID:     "TCP:QTL2789-01-001",
			Command:      &qislog.CommandEvent{Text: "TCP:QTL2789-01-001 rec stream"},
		},
		{
			Timestamp:    ts.Add(time.Millisecond),
			ConnectionID: "conn-1",
			Direction:    qislog.DirectionIn,
			Layer:        qislog.LayerWire,
			Category:     qislog.CategoryMessage,
			Response:     &qislog.ResponseEvent{Size: 2, Lines: 1, Text: "OK"},
		},
	}

	path := createTestLogFile(t, events)
	output := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", output); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	data := readFile(t, output)
	lines := strings.Split(strings.TrimSpace(data), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSONL lines, got %d", len(lines))
	}

	var decoded qislog.Event
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("failed to decode JSONL line: %v", err)
	}
	if decoded.Command == nil || decoded.Command.Text != "TCP:QTL2789-01-001 rec stream" {
		t.Errorf("unexpected command event: %+v", decoded.Command)
	}
}

func TestExportToCSV(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	events := []qislog.Event{
		{
			Timestamp:    ts,
			ConnectionID: "conn-1",
			Direction:    qislog.DirectionOut,
			Layer:        qislog.LayerWire,
			Category:     qislog.CategoryMessage,
			Command:      &qislog.CommandEvent{Text: "$version"},
		},
		{
			Timestamp:    ts.Add(time.Second),
			ConnectionID: "conn-2",
			Direction:    qislog.DirectionIn,
			Layer:        qislog.LayerStream,
			Category:     qislog.CategoryData,
			DeviceID:     "TCP:QTL2789-01-001",
			StreamRow:    &qislog.StreamRowEvent{Sequence: 7, Size: 20, Text: "1000,1,2,3"},
		},
	}

	path := createTestLogFile(t, events)
	output := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, "csv", output); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	data := readFile(t, output)
	lines := strings.Split(strings.TrimSpace(data), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "timestamp,connection_id") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "command") || !strings.Contains(lines[1], "$version") {
		t.Errorf("unexpected command row: %s", lines[1])
	}
	if !strings.Contains(lines[2], "row") || !strings.Contains(lines[2], "seq 7") {
		t.Errorf("unexpected stream row: %s", lines[2])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, nil)
	err := RunExport(path, "xml", "")
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
	if !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("unexpected error: %v", err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}
