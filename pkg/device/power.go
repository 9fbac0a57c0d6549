package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quarchtech/qis-go/pkg/qis"
	"github.com/quarchtech/qis-go/pkg/stream"
)

// Power module errors.
var (
	// ErrStreamActive indicates a stream is already running on the module.
	ErrStreamActive = errors.New("stream already active")

	// ErrNoStream indicates no stream has been started on the module.
	ErrNoStream = errors.New("no active stream")
)

// DefaultStatusPollInterval is the default interval for status polling.
const DefaultStatusPollInterval = time.Second

// StreamOptions configures a capture started with StartStream.
type StreamOptions struct {
	// Duration ends the capture server-side after the given time.
	// 0 streams until stopped.
	Duration time.Duration

	// BufferLimit bounds the in-memory row buffer (0 = unbounded).
	BufferLimit int
}

// PowerModule is a power device handle with streaming controls, the
// counterpart of a PPM fixture attached to QIS.
type PowerModule struct {
	*Device

	client *qis.Client

	mu     sync.Mutex
	stream *stream.Stream
}

// NewPowerModule wraps a module as a power device. The control
// connection carries commands; data connections for streaming are
// dialed through client.
func NewPowerModule(client *qis.Client, conn *qis.Conn, id string) *PowerModule {
	return &PowerModule{
		Device: New(conn, id),
		client: client,
	}
}

// StreamResampleMode sets the QIS resampling rate for this module
// ("1ms", "500ms", "max").
func (m *PowerModule) StreamResampleMode(ctx context.Context, mode string) error {
	_, err := m.RunCommand(ctx, "rec stream mode resample "+mode)
	return err
}

// StartStream opens a data connection and begins a capture. The
// returned stream buffers rows in the background until the capture
// ends or the stream is closed.
func (m *PowerModule) StartStream(ctx context.Context, opts StreamOptions) (*stream.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil {
		select {
		case <-m.stream.Done():
			// Previous capture finished; allow a new one
		default:
			return nil, fmt.Errorf("%w on %s", ErrStreamActive, m.ID())
		}
	}

	cmd := "rec stream"
	if opts.Duration > 0 {
		cmd = fmt.Sprintf("rec stream %s", formatDuration(opts.Duration))
	}

	sc, err := m.client.OpenStream(ctx, m.ID(), cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start stream on %s: %w", m.ID(), err)
	}

	st, err := stream.Open(sc, stream.Options{
		DeviceID:     m.Serial(),
		ConnectionID: sc.ID(),
		BufferLimit:  opts.BufferLimit,
		Logger:       m.client.Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open stream on %s: %w", m.ID(), err)
	}

	m.stream = st
	return st, nil
}

// Stream returns the stream from the last StartStream call.
func (m *PowerModule) Stream() (*stream.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil, ErrNoStream
	}
	return m.stream, nil
}

// StopStream ends the capture (rec stop), waits for the end-of-stream
// marker so buffered rows are complete, and releases the data
// connection. Stopping a module with no active stream only issues the
// stop command.
func (m *PowerModule) StopStream(ctx context.Context) error {
	if _, err := m.RunCommand(ctx, "rec stop"); err != nil {
		return err
	}

	m.mu.Lock()
	st := m.stream
	m.mu.Unlock()
	if st == nil {
		return nil
	}

	select {
	case <-st.Done():
	case <-ctx.Done():
		st.Close()
		return ctx.Err()
	}
	return st.Close()
}

// StreamStatus polls the module's stream state (stream?).
func (m *PowerModule) StreamStatus(ctx context.Context) (StreamStatus, error) {
	text, err := m.RunCommand(ctx, "stream?")
	if err != nil {
		return StatusUnknown, err
	}
	return ParseStreamStatus(text), nil
}

// AwaitStreamEnd polls the stream status until the module reports the
// capture has stopped, then returns the final status. A non-positive
// poll interval uses DefaultStatusPollInterval.
func (m *PowerModule) AwaitStreamEnd(ctx context.Context, poll time.Duration) (StreamStatus, error) {
	if poll <= 0 {
		poll = DefaultStatusPollInterval
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		status, err := m.StreamStatus(ctx)
		if err != nil {
			// A poll aborted by cancellation reports as an i/o error;
			// the context error is the one callers match on.
			if ctx.Err() != nil {
				return StatusUnknown, ctx.Err()
			}
			return StatusUnknown, err
		}
		if !status.Running() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return StatusUnknown, ctx.Err()
		case <-ticker.C:
		}
	}
}

// formatDuration renders a duration the way QIS expects stream
// durations: integer seconds for whole seconds, integer milliseconds
// otherwise so sub-second remainders are not lost.
func formatDuration(d time.Duration) string {
	if d%time.Second != 0 {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
