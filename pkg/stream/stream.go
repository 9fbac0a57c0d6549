package stream

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quarchtech/qis-go/pkg/qis"
	"github.com/quarchtech/qis-go/pkg/qislog"
)

// Stream errors.
var (
	// ErrEmptyHeader indicates the stream header contained no channels.
	ErrEmptyHeader = errors.New("stream header has no channels")

	// ErrTruncated indicates the stream ended without the end-of-stream
	// prompt, so rows may be missing.
	ErrTruncated = errors.New("stream truncated")
)

// LineSource is the transport a stream reads from. *qis.StreamConn
// implements it; tests substitute scripted sources.
type LineSource interface {
	ReadLine() (string, error)
	Close() error
}

// Options configures a stream.
type Options struct {
	// DeviceID identifies the source device in capture events.
	DeviceID string

	// ConnectionID is the capture identifier of the data connection.
	ConnectionID string

	// BufferLimit bounds the in-memory row buffer (0 = unbounded).
	BufferLimit int

	// Logger receives capture events. Nil disables capture.
	Logger qislog.Logger
}

// Stream reads measurement rows from a data connection in the
// background and buffers them in memory.
type Stream struct {
	source   LineSource
	header   Header
	buf      *Buffer
	logger   qislog.Logger
	deviceID string
	connID   string

	done    chan struct{}
	closing atomic.Bool

	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Open reads the channel header from source and starts the background
// row reader. The source is closed when the stream is closed.
func Open(source LineSource, opts Options) (*Stream, error) {
	logger := opts.Logger
	if logger == nil {
		logger = qislog.NoopLogger{}
	}

	line, err := source.ReadLine()
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("failed to read stream header: %w", err)
	}

	// QIS refuses a stream with a FAIL line in place of the header.
	if failure := qis.ParseFailure(line); failure != nil {
		source.Close()
		return nil, fmt.Errorf("stream not started: %w", failure)
	}

	header := ParseHeader(line)
	if header.Len() == 0 {
		source.Close()
		return nil, fmt.Errorf("%w: %q", ErrEmptyHeader, line)
	}

	s := &Stream{
		source:   source,
		header:   header,
		buf:      NewBuffer(opts.BufferLimit),
		logger:   logger,
		deviceID: opts.DeviceID,
		connID:   opts.ConnectionID,
		done:     make(chan struct{}),
	}

	go s.readLoop()
	return s, nil
}

// Header returns the stream's channel header.
func (s *Stream) Header() Header {
	return s.header
}

// Len returns the number of buffered rows.
func (s *Stream) Len() int {
	return s.buf.Len()
}

// Rows returns a copy of the buffered rows.
func (s *Stream) Rows() [][]string {
	return s.buf.Rows()
}

// LatestRow returns the most recent row, if any.
func (s *Stream) LatestRow() ([]string, bool) {
	return s.buf.Latest()
}

// Latest returns the most recent value of one channel.
func (s *Stream) Latest(channel string) (string, bool) {
	i := s.header.Index(channel)
	if i < 0 {
		return "", false
	}
	row, ok := s.buf.Latest()
	if !ok || i >= len(row) {
		return "", false
	}
	return row[i], true
}

// Dropped returns the number of rows evicted from the buffer.
func (s *Stream) Dropped() uint64 {
	return s.buf.Dropped()
}

// Done is closed when the row reader has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err reports why the stream ended. It is nil while the stream is
// running, after a clean end-of-stream, and after Close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears down the data connection and waits for the reader to
// exit. It is safe to call multiple times.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		err = s.source.Close()
		<-s.done
	})
	return err
}

// readLoop consumes rows until the end-of-stream prompt, an error, or
// Close. It is the only writer of s.err.
func (s *Stream) readLoop() {
	defer close(s.done)

	seq := uint64(0)
	for {
		line, err := s.source.ReadLine()
		if err != nil {
			if s.closing.Load() {
				return
			}
			s.setErr(fmt.Errorf("%w after %d rows: %v", ErrTruncated, seq, err))
			return
		}

		if line == qis.PromptLine {
			// Clean end of stream
			s.logState("RUNNING", "ENDED", "end of stream")
			return
		}
		if line == "" {
			continue
		}

		row := parseRow(line)
		s.buf.Append(row)

		text, truncated := qislog.Truncate(line)
		s.logger.Log(qislog.Event{
			Timestamp:    time.Now(),
			ConnectionID: s.connID,
			Direction:    qislog.DirectionIn,
			Layer:        qislog.LayerStream,
			Category:     qislog.CategoryData,
			DeviceID:     s.deviceID,
			StreamRow: &qislog.StreamRowEvent{
				Sequence:  seq,
				Size:      len(line),
				Text:      text,
				Truncated: truncated,
			},
		})
		seq++
	}
}

// setErr records the terminal error and emits a capture event.
func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	s.logger.Log(qislog.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.connID,
		Direction:    qislog.DirectionIn,
		Layer:        qislog.LayerStream,
		Category:     qislog.CategoryError,
		DeviceID:     s.deviceID,
		Error: &qislog.ErrorEventData{
			Layer:   qislog.LayerStream,
			Message: err.Error(),
		},
	})
}

// logState emits a stream state-change capture event.
func (s *Stream) logState(oldState, newState, reason string) {
	s.logger.Log(qislog.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.connID,
		Direction:    qislog.DirectionIn,
		Layer:        qislog.LayerSession,
		Category:     qislog.CategoryState,
		DeviceID:     s.deviceID,
		StateChange: &qislog.StateChangeEvent{
			Entity:   qislog.StateEntityStream,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// parseRow splits a CSV measurement row into cells.
func parseRow(line string) []string {
	cells := strings.Split(line, ",")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}
