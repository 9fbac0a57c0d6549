package qis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarchtech/qis-go/internal/qistest"
	"github.com/quarchtech/qis-go/pkg/qis"
	"github.com/quarchtech/qis-go/pkg/qislog"
)

const testDeviceID = "TCP:QTL2789-01-001"

// memoryLogger collects capture events for assertions.
type memoryLogger struct {
	mu     sync.Mutex
	events []qislog.Event
}

func (l *memoryLogger) Log(event qislog.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *memoryLogger) snapshot() []qislog.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]qislog.Event(nil), l.events...)
}

func newTestServer(t *testing.T, devices ...qistest.DeviceConfig) *qistest.Server {
	t.Helper()
	if len(devices) == 0 {
		devices = []qistest.DeviceConfig{{ID: testDeviceID}}
	}
	srv, err := qistest.NewServer(devices...)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientVersion(t *testing.T) {
	srv := newTestServer(t)
	client := qis.NewClient(qis.Config{Host: srv.Host(), Port: srv.Port()})

	conn, err := client.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	version, err := conn.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "QIS 1.31", version)
}

func TestClientScanAndList(t *testing.T) {
	srv := newTestServer(t,
		qistest.DeviceConfig{ID: "TCP:QTL2789-01-001"},
		qistest.DeviceConfig{ID: "TCP:QTL2582-01-005"},
	)
	client := qis.NewClient(qis.Config{Host: srv.Host(), Port: srv.Port()})

	conn, err := client.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	devices, err := conn.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"TCP:QTL2789-01-001", "TCP:QTL2582-01-005"}, devices)

	listed, err := conn.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, devices, listed)
}

func TestDeviceCommandFailure(t *testing.T) {
	srv := newTestServer(t)
	client := qis.NewClient(qis.Config{Host: srv.Host(), Port: srv.Port()})

	conn, err := client.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.DeviceCommand(context.Background(), "TCP:QTL0000-00-000", "stream?")
	require.Error(t, err)

	var cmdErr *qis.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "0x01", cmdErr.Code)
	assert.Equal(t, "Device not found", cmdErr.Message)
}

func TestSendCommandAfterClose(t *testing.T) {
	srv := newTestServer(t)
	client := qis.NewClient(qis.Config{Host: srv.Host(), Port: srv.Port()})

	conn, err := client.Dial(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close()) // idempotent

	_, err = conn.Version(context.Background())
	assert.ErrorIs(t, err, qis.ErrConnectionClosed)
}

func TestOversizedResponseClosesConn(t *testing.T) {
	srv := newTestServer(t,
		qistest.DeviceConfig{ID: "TCP:QTL2843-03-001"},
		qistest.DeviceConfig{ID: "TCP:QTL2843-03-002"},
		qistest.DeviceConfig{ID: "TCP:QTL2843-03-003"},
	)
	client := qis.NewClient(qis.Config{
		Host:            srv.Host(),
		Port:            srv.Port(),
		MaxResponseSize: 30,
	})

	conn, err := client.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.List(context.Background())
	require.ErrorIs(t, err, qis.ErrResponseTooLarge)

	// The unread remainder of the list must never surface as a later
	// command's response; the connection is unusable after the abort.
	_, err = conn.Version(context.Background())
	assert.ErrorIs(t, err, qis.ErrConnectionClosed)
}

func TestSendCommandSerialized(t *testing.T) {
	srv := newTestServer(t)
	client := qis.NewClient(qis.Config{Host: srv.Host(), Port: srv.Port()})

	conn, err := client.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			version, err := conn.Version(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "QIS 1.31", version)
		}()
	}
	wg.Wait()
}

func TestOpenStreamDeliversHeaderAndRows(t *testing.T) {
	srv := newTestServer(t, qistest.DeviceConfig{
		ID:          testDeviceID,
		RowInterval: time.Millisecond,
		MaxRows:     5,
	})
	client := qis.NewClient(qis.Config{Host: srv.Host(), Port: srv.Port()})

	sc, err := client.OpenStream(context.Background(), testDeviceID, "rec stream")
	require.NoError(t, err)
	defer sc.Close()

	header, err := sc.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "Time us,L1_RMS mV,L1_RMS mA,Tot_PApp mVA", header)

	var rows []string
	for {
		line, err := sc.ReadLine()
		require.NoError(t, err)
		if line == qis.PromptLine {
			break
		}
		rows = append(rows, line)
	}
	assert.Len(t, rows, 5)
	assert.Equal(t, "1000,1001,2001,3001", rows[1])
}

func TestClientCapturesTraffic(t *testing.T) {
	srv := newTestServer(t)
	logger := &memoryLogger{}
	client := qis.NewClient(qis.Config{Host: srv.Host(), Port: srv.Port(), Logger: logger})

	conn, err := client.Dial(context.Background())
	require.NoError(t, err)

	_, err = conn.Version(context.Background())
	require.NoError(t, err)
	conn.Close()

	events := logger.snapshot()
	require.NotEmpty(t, events)

	var sawCommand, sawResponse, sawConnected, sawClosed bool
	for _, e := range events {
		assert.Equal(t, conn.ID(), e.ConnectionID)
		switch {
		case e.Command != nil:
			sawCommand = true
			assert.Equal(t, "$version", e.Command.Text)
		case e.Response != nil:
			sawResponse = true
			assert.Equal(t, "QIS 1.31", e.Response.Text)
			assert.False(t, e.Response.Failed)
		case e.StateChange != nil && e.StateChange.NewState == "CONNECTED":
			sawConnected = true
		case e.StateChange != nil && e.StateChange.NewState == "CLOSED":
			sawClosed = true
		}
	}
	assert.True(t, sawCommand, "missing command event")
	assert.True(t, sawResponse, "missing response event")
	assert.True(t, sawConnected, "missing connected event")
	assert.True(t, sawClosed, "missing closed event")
}

func TestDialUnreachable(t *testing.T) {
	client := qis.NewClient(qis.Config{
		Host:           "127.0.0.1",
		Port:           1, // nothing listens here
		ConnectTimeout: 500 * time.Millisecond,
	})
	_, err := client.Dial(context.Background())
	require.Error(t, err)
}
