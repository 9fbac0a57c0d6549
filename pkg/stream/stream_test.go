package stream

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarchtech/qis-go/pkg/qis"
)

// scriptedSource feeds lines to a stream from a channel. Closing the
// lines channel simulates the peer closing the connection.
type scriptedSource struct {
	lines  chan string
	closed chan struct{}
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		lines:  make(chan string, 64),
		closed: make(chan struct{}),
	}
}

func (s *scriptedSource) ReadLine() (string, error) {
	select {
	case line, ok := <-s.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-s.closed:
		return "", io.EOF
	}
}

func (s *scriptedSource) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

func (s *scriptedSource) send(lines ...string) {
	for _, l := range lines {
		s.lines <- l
	}
}

func waitRows(t *testing.T, s *Stream, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for s.Len() < n {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d rows, have %d", n, s.Len())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestOpenParsesHeader(t *testing.T) {
	src := newScriptedSource()
	src.send("Time us,L1_RMS mV,L1_RMS mA")

	s, err := Open(src, Options{DeviceID: "QTL2789-01-001"})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"Time us", "L1_RMS mV", "L1_RMS mA"}, s.Header().Channels())
}

func TestOpenRejectsFailResponse(t *testing.T) {
	src := newScriptedSource()
	src.send("FAIL:0x03 - Stream already running")

	_, err := Open(src, Options{})
	require.Error(t, err)

	var cmdErr *qis.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "0x03", cmdErr.Code)
	assert.Equal(t, "Stream already running", cmdErr.Message)

	select {
	case <-src.closed:
	default:
		t.Fatal("refused stream left the data connection open")
	}
}

func TestOpenRejectsEmptyHeader(t *testing.T) {
	src := newScriptedSource()
	src.send(",,")

	_, err := Open(src, Options{})
	assert.ErrorIs(t, err, ErrEmptyHeader)
}

func TestOpenHeaderReadFailure(t *testing.T) {
	src := newScriptedSource()
	src.Close()

	_, err := Open(src, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream header")
}

func TestStreamBuffersRows(t *testing.T) {
	src := newScriptedSource()
	src.send("Time us,L1_RMS mV")

	s, err := Open(src, Options{})
	require.NoError(t, err)
	defer s.Close()

	src.send("0,1000", "1000,1001", "2000,1002")
	waitRows(t, s, 3)

	rows := s.Rows()
	assert.Equal(t, []string{"0", "1000"}, rows[0])
	assert.Equal(t, []string{"2000", "1002"}, rows[2])

	v, ok := s.Latest("L1_RMS mV")
	require.True(t, ok)
	assert.Equal(t, "1002", v)

	_, ok = s.Latest("Tot_PApp mVA")
	assert.False(t, ok, "absent channel must not report a value")
}

func TestStreamCleanEnd(t *testing.T) {
	src := newScriptedSource()
	src.send("Time us,L1_RMS mV", "0,1000", ">")

	s, err := Open(src, Options{})
	require.NoError(t, err)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end on prompt")
	}

	assert.NoError(t, s.Err())
	assert.Equal(t, 1, s.Len())
	require.NoError(t, s.Close())
}

func TestStreamTruncation(t *testing.T) {
	src := newScriptedSource()
	src.send("Time us,L1_RMS mV", "0,1000")
	close(src.lines) // peer drops without the end-of-stream prompt

	s, err := Open(src, Options{})
	require.NoError(t, err)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end on EOF")
	}

	assert.ErrorIs(t, s.Err(), ErrTruncated)
	assert.Equal(t, 1, s.Len())
}

func TestStreamCloseIsClean(t *testing.T) {
	src := newScriptedSource()
	src.send("Time us,L1_RMS mV", "0,1000")

	s, err := Open(src, Options{})
	require.NoError(t, err)
	waitRows(t, s, 1)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close()) // idempotent
	assert.NoError(t, s.Err(), "local close is not a stream error")
}

func TestStreamBufferLimit(t *testing.T) {
	src := newScriptedSource()
	src.send("Time us,L1_RMS mV")

	s, err := Open(src, Options{BufferLimit: 2})
	require.NoError(t, err)
	defer s.Close()

	src.send("0,1000", "1,1001", "2,1002", "3,1003")
	deadline := time.After(2 * time.Second)
	for s.Dropped() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for eviction, dropped=%d", s.Dropped())
		case <-time.After(time.Millisecond):
		}
	}

	assert.Equal(t, 2, s.Len())
	v, ok := s.Latest("L1_RMS mV")
	require.True(t, ok)
	assert.Equal(t, "1003", v)
}

func TestWriteCSV(t *testing.T) {
	src := newScriptedSource()
	src.send("Time us,L1_RMS mV", "0,1000", "1000,1001", ">")

	s, err := Open(src, Options{})
	require.NoError(t, err)
	<-s.Done()

	var sb strings.Builder
	require.NoError(t, s.WriteCSV(&sb))
	assert.Equal(t, "Time us,L1_RMS mV\n0,1000\n1000,1001\n", sb.String())
}

func TestExportCSV(t *testing.T) {
	src := newScriptedSource()
	src.send("Time us,L1_RMS mV", "0,1000", ">")

	s, err := Open(src, Options{})
	require.NoError(t, err)
	<-s.Done()

	dir := filepath.Join(t.TempDir(), "captures")
	path, err := s.ExportCSV(dir, "QTL2789-01-001")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "QTL2789-01-001.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, s.Header().String(), lines[0], "csv header must equal the stream header")
}

func TestExportCSVBadDir(t *testing.T) {
	src := newScriptedSource()
	src.send("Time us,L1_RMS mV", ">")

	s, err := Open(src, Options{})
	require.NoError(t, err)
	<-s.Done()

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err = s.ExportCSV(file, "QTL2789-01-001")
	require.Error(t, err)
	var pathErr *os.PathError
	assert.True(t, errors.As(err, &pathErr))
}
