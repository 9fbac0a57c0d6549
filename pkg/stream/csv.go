package stream

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// WriteCSV writes the channel header and all buffered rows to w.
func (s *Stream) WriteCSV(w io.Writer) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(s.header.String() + "\n"); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, row := range s.buf.Rows() {
		if _, err := bw.WriteString(strings.Join(row, ",") + "\n"); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	return bw.Flush()
}

// ExportCSV writes the stream to "<serial>.csv" in dir, creating the
// directory if needed, and returns the file path.
func (s *Stream) ExportCSV(dir, serial string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, serial+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create csv file: %w", err)
	}

	if err := s.WriteCSV(f); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
