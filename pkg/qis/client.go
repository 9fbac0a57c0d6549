package qis

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quarchtech/qis-go/pkg/qislog"
)

// Client defaults.
const (
	// DefaultHost is the address of a locally running QIS.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the QIS command port.
	DefaultPort = 9722

	// DefaultConnectTimeout is the connection timeout.
	DefaultConnectTimeout = 30 * time.Second
)

// Config configures a QIS client.
type Config struct {
	// Host is the QIS host (default: 127.0.0.1).
	Host string

	// Port is the QIS command port (default: 9722).
	Port int

	// ConnectTimeout is the connection timeout (default: 30s).
	ConnectTimeout time.Duration

	// MaxResponseSize is the maximum response payload size (default: 1 MB).
	MaxResponseSize int

	// Logger receives protocol capture events. Nil disables capture.
	Logger qislog.Logger
}

// Client dials control and data connections to a QIS instance.
type Client struct {
	config Config
	addr   string
	logger qislog.Logger
}

// NewClient creates a new QIS client.
func NewClient(config Config) *Client {
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.MaxResponseSize == 0 {
		config.MaxResponseSize = DefaultMaxResponseSize
	}

	logger := config.Logger
	if logger == nil {
		logger = qislog.NoopLogger{}
	}

	return &Client{
		config: config,
		addr:   net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		logger: logger,
	}
}

// Addr returns the host:port this client dials.
func (c *Client) Addr() string {
	return c.addr
}

// Logger returns the capture logger connections inherit.
func (c *Client) Logger() qislog.Logger {
	return c.logger
}

// dial establishes a TCP connection with the configured timeout.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	// Apply timeout from config if context doesn't have one
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s failed: %w", c.addr, err)
	}
	return conn, nil
}

// Dial establishes a control connection.
func (c *Client) Dial(ctx context.Context) (*Conn, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	cc := &Conn{
		conn:            conn,
		br:              bufio.NewReader(conn),
		connID:          uuid.NewString(),
		logger:          c.logger,
		maxResponseSize: c.config.MaxResponseSize,
		closeCh:         make(chan struct{}),
	}

	c.logger.Log(qislog.Event{
		Timestamp:    time.Now(),
		ConnectionID: cc.connID,
		Direction:    qislog.DirectionOut,
		Layer:        qislog.LayerSession,
		Category:     qislog.CategoryState,
		RemoteAddr:   conn.RemoteAddr().String(),
		StateChange: &qislog.StateChangeEvent{
			Entity:   qislog.StateEntityConnection,
			NewState: "CONNECTED",
		},
	})

	return cc, nil
}

// OpenStream dials a dedicated data connection and switches it into
// streaming mode with the given command ("rec stream", optionally with a
// duration argument). QIS answers with a channel header line followed by
// CSV measurement rows; no prompt is sent until the stream ends.
func (c *Client) OpenStream(ctx context.Context, deviceID, command string) (*StreamConn, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	sc := &StreamConn{
		conn:     conn,
		br:       bufio.NewReader(conn),
		connID:   uuid.NewString(),
		deviceID: deviceID,
		logger:   c.logger,
	}

	if err := writeCommand(conn, deviceID+" "+command); err != nil {
		conn.Close()
		return nil, err
	}

	c.logger.Log(qislog.Event{
		Timestamp:    time.Now(),
		ConnectionID: sc.connID,
		Direction:    qislog.DirectionOut,
		Layer:        qislog.LayerWire,
		Category:     qislog.CategoryMessage,
		DeviceID:     deviceID,
		RemoteAddr:   conn.RemoteAddr().String(),
		Command:      &qislog.CommandEvent{Text: deviceID + " " + command},
	})

	return sc, nil
}

// Conn is a control connection to QIS.
// One command is in flight at a time; commands are serialized internally.
type Conn struct {
	conn            net.Conn
	br              *bufio.Reader
	connID          string
	logger          qislog.Logger
	maxResponseSize int
	closeCh         chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
}

// ID returns the connection's capture identifier.
func (c *Conn) ID() string {
	return c.connID
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SendCommand writes a command line and reads the response block.
// The returned payload has the prompt stripped. A FAIL response is
// returned as a *CommandError. A wire error closes the connection:
// a response block consumed only partway cannot be resynchronized.
func (c *Conn) SendCommand(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closeCh:
		return "", ErrConnectionClosed
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	start := time.Now()
	if err := writeCommand(c.conn, cmd); err != nil {
		if !errors.Is(err, ErrEmptyCommand) && !errors.Is(err, ErrMultilineCommand) {
			c.Close()
		}
		return "", err
	}
	c.logEvent(qislog.DirectionOut, qislog.Event{
		Command: &qislog.CommandEvent{Text: cmd},
	})

	payload, err := readResponse(c.br, c.maxResponseSize)
	if err != nil {
		c.logError(err, cmd)
		// The response boundary is lost, so leftover lines of this
		// block would surface as the next command's response.
		c.Close()
		return "", err
	}

	latency := time.Since(start)
	failure := ParseFailure(payload)

	text, truncated := qislog.Truncate(payload)
	c.logEvent(qislog.DirectionIn, qislog.Event{
		Response: &qislog.ResponseEvent{
			Size:      len(payload),
			Lines:     countLines(payload),
			Failed:    failure != nil,
			Text:      text,
			Truncated: truncated,
			Latency:   &latency,
		},
	})

	if failure != nil {
		failure.Command = cmd
		return "", failure
	}
	return payload, nil
}

// DeviceCommand sends a command scoped to a device identifier.
func (c *Conn) DeviceCommand(ctx context.Context, deviceID, cmd string) (string, error) {
	return c.SendCommand(ctx, deviceID+" "+cmd)
}

// Version returns the QIS version string ($version).
func (c *Conn) Version(ctx context.Context) (string, error) {
	return c.SendCommand(ctx, "$version")
}

// Scan triggers a device scan and returns discovered device identifiers ($scan).
func (c *Conn) Scan(ctx context.Context) ([]string, error) {
	payload, err := c.SendCommand(ctx, "$scan")
	if err != nil {
		return nil, err
	}
	return parseDeviceList(payload), nil
}

// List returns the identifiers of devices QIS already knows about ($list).
func (c *Conn) List(ctx context.Context) ([]string, error) {
	payload, err := c.SendCommand(ctx, "$list")
	if err != nil {
		return nil, err
	}
	return parseDeviceList(payload), nil
}

// Shutdown asks the QIS service to terminate ($shutdown).
func (c *Conn) Shutdown(ctx context.Context) error {
	_, err := c.SendCommand(ctx, "$shutdown")
	return err
}

// Close closes the control connection. It is safe to call multiple times.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()

		c.logger.Log(qislog.Event{
			Timestamp:    time.Now(),
			ConnectionID: c.connID,
			Direction:    qislog.DirectionOut,
			Layer:        qislog.LayerSession,
			Category:     qislog.CategoryState,
			StateChange: &qislog.StateChangeEvent{
				Entity:   qislog.StateEntityConnection,
				OldState: "CONNECTED",
				NewState: "CLOSED",
			},
		})
	})
	return err
}

// logEvent fills in the common event fields and forwards to the logger.
func (c *Conn) logEvent(dir qislog.Direction, event qislog.Event) {
	event.Timestamp = time.Now()
	event.ConnectionID = c.connID
	event.Direction = dir
	event.Layer = qislog.LayerWire
	event.Category = qislog.CategoryMessage
	event.RemoteAddr = c.conn.RemoteAddr().String()
	c.logger.Log(event)
}

// logError records a wire-layer error event.
func (c *Conn) logError(err error, cmd string) {
	c.logger.Log(qislog.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    qislog.DirectionIn,
		Layer:        qislog.LayerWire,
		Category:     qislog.CategoryError,
		Error: &qislog.ErrorEventData{
			Layer:   qislog.LayerWire,
			Message: err.Error(),
			Context: cmd,
		},
	})
}

// StreamConn is a data connection in streaming mode.
// The first line QIS sends is the channel header; every following line
// is a CSV measurement row. The stream ends with a prompt line.
type StreamConn struct {
	conn     net.Conn
	br       *bufio.Reader
	connID   string
	deviceID string
	logger   qislog.Logger

	closeOnce sync.Once
}

// ID returns the connection's capture identifier.
func (s *StreamConn) ID() string {
	return s.connID
}

// ReadLine returns the next line from the stream with the terminator
// stripped. io.EOF is returned as-is when the connection ends.
func (s *StreamConn) ReadLine() (string, error) {
	line, err := s.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return trimLine(line), nil
}

// Close closes the data connection. It is safe to call multiple times.
func (s *StreamConn) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// countLines returns the number of lines in a response payload.
func countLines(payload string) int {
	if payload == "" {
		return 0
	}
	n := 1
	for i := 0; i < len(payload); i++ {
		if payload[i] == '\n' {
			n++
		}
	}
	return n
}
