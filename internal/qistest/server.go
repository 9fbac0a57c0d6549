// Package qistest provides an in-process QIS simulator for tests.
//
// The server speaks the QIS line protocol over loopback TCP: CRLF
// commands, ">" prompt terminated responses, $-prefixed service
// commands and device-prefixed module commands. Simulated power
// modules produce deterministic measurement rows at a configurable
// rate so streaming tests don't depend on hardware.
package qistest

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// DefaultChannels is the channel header used when a device config
// doesn't set one. It matches the header of a three-phase power module.
var DefaultChannels = []string{"Time us", "L1_RMS mV", "L1_RMS mA", "Tot_PApp mVA"}

// DeviceConfig configures one simulated power module.
type DeviceConfig struct {
	// ID is the full device identifier ("TCP:QTL2789-01-001").
	ID string

	// Channels are the stream header channels (default: DefaultChannels).
	Channels []string

	// RowInterval is the delay between generated rows (default: 2ms).
	RowInterval time.Duration

	// MaxRows ends the stream after this many rows with a user stop.
	// 0 means the stream runs until stopped or its duration elapses.
	MaxRows int

	// OverrunAfter ends the stream after this many rows with a
	// simulated buffer overrun. 0 disables.
	OverrunAfter int
}

// simDevice is the mutable state of one simulated module.
type simDevice struct {
	cfg DeviceConfig

	mu         sync.Mutex
	resample   string
	streaming  bool
	stopReason string // "", "User", "Overrun", "Unknown"
	stop       chan struct{}
}

// Server is an in-process QIS simulator listening on loopback.
type Server struct {
	ln      net.Listener
	version string

	mu      sync.Mutex
	devices map[string]*simDevice
	order   []string
	closed  bool

	wg sync.WaitGroup
}

// NewServer starts a simulator with the given devices on an ephemeral
// loopback port.
func NewServer(devices ...DeviceConfig) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{
		ln:      ln,
		version: "QIS 1.31",
		devices: make(map[string]*simDevice),
	}
	for _, cfg := range devices {
		if len(cfg.Channels) == 0 {
			cfg.Channels = DefaultChannels
		}
		if cfg.RowInterval == 0 {
			cfg.RowInterval = 2 * time.Millisecond
		}
		s.devices[cfg.ID] = &simDevice{cfg: cfg}
		s.order = append(s.order, cfg.ID)
	}

	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Addr returns the host:port the simulator listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Host returns the listen host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listen port.
func (s *Server) Port() int {
	addr := s.ln.Addr().(*net.TCPAddr)
	return addr.Port
}

// Close stops the simulator and waits for connection handlers to exit.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, dev := range s.devices {
		dev.interrupt("User")
	}
	s.mu.Unlock()

	s.ln.Close()
	s.wg.Wait()
}

// Status returns a device's current stream status line, as "stream?"
// would report it. Unknown devices return "".
func (s *Server) Status(deviceID string) string {
	s.mu.Lock()
	dev, ok := s.devices[deviceID]
	s.mu.Unlock()
	if !ok {
		return ""
	}
	return dev.statusLine()
}

// Resample returns the resample mode last set on a device.
func (s *Server) Resample(deviceID string) string {
	s.mu.Lock()
	dev, ok := s.devices[deviceID]
	s.mu.Unlock()
	if !ok {
		return ""
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.resample
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, 0, 256)
	tmp := make([]byte, 256)
	for {
		// Accumulate one CRLF-terminated line
		line, rest, ok := cutLine(buf)
		if !ok {
			n, err := conn.Read(tmp)
			if err != nil {
				return
			}
			buf = append(buf, tmp[:n]...)
			continue
		}
		buf = rest

		if !s.dispatch(conn, strings.TrimSpace(line)) {
			return
		}
	}
}

// cutLine splits buf at the first line terminator.
func cutLine(buf []byte) (line string, rest []byte, ok bool) {
	for i := 0; i < len(buf); i++ {
		if buf[i] == '\n' {
			return strings.TrimRight(string(buf[:i]), "\r"), buf[i+1:], true
		}
	}
	return "", buf, false
}

// dispatch handles one command line. It returns false when the
// connection should be closed.
func (s *Server) dispatch(conn net.Conn, line string) bool {
	switch {
	case line == "":
		s.reply(conn, "")
		return true

	case line == "$version":
		s.reply(conn, s.version)
		return true

	case line == "$scan" || line == "$list":
		s.mu.Lock()
		var sb strings.Builder
		if len(s.order) == 0 {
			sb.WriteString("No devices found")
		}
		for i, id := range s.order {
			if i > 0 {
				sb.WriteString("\r\n")
			}
			fmt.Fprintf(&sb, "%d) %s", i+1, id)
		}
		s.mu.Unlock()
		s.reply(conn, sb.String())
		return true

	case line == "$shutdown":
		s.reply(conn, "OK")
		go s.Close()
		return false

	case strings.HasPrefix(line, "$"):
		s.reply(conn, "FAIL:0x02 - Unknown command")
		return true
	}

	deviceID, cmd, ok := strings.Cut(line, " ")
	if !ok {
		s.reply(conn, "FAIL:0x02 - Unknown command")
		return true
	}

	s.mu.Lock()
	dev, found := s.devices[deviceID]
	s.mu.Unlock()
	if !found {
		s.reply(conn, "FAIL:0x01 - Device not found")
		return true
	}

	return s.deviceCommand(conn, dev, strings.TrimSpace(cmd))
}

// deviceCommand handles a device-scoped command.
func (s *Server) deviceCommand(conn net.Conn, dev *simDevice, cmd string) bool {
	switch {
	case strings.HasPrefix(cmd, "rec stream mode resample "):
		dev.mu.Lock()
		dev.resample = strings.TrimPrefix(cmd, "rec stream mode resample ")
		dev.mu.Unlock()
		s.reply(conn, "OK")
		return true

	case cmd == "rec stream" || strings.HasPrefix(cmd, "rec stream "):
		var duration time.Duration
		if arg := strings.TrimPrefix(cmd, "rec stream"); strings.TrimSpace(arg) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(arg))
			if err != nil {
				s.reply(conn, "FAIL:0x04 - Bad stream duration")
				return true
			}
			duration = d
		}
		return s.streamTo(conn, dev, duration)

	case cmd == "rec stop":
		dev.interrupt("User")
		s.reply(conn, "OK")
		return true

	case cmd == "stream?":
		s.reply(conn, dev.statusLine())
		return true

	default:
		s.reply(conn, "FAIL:0x02 - Unknown command")
		return true
	}
}

// streamTo switches conn into streaming mode for dev: header line first,
// then deterministic rows until the stream ends, then the prompt.
func (s *Server) streamTo(conn net.Conn, dev *simDevice, duration time.Duration) bool {
	dev.mu.Lock()
	if dev.streaming {
		dev.mu.Unlock()
		s.reply(conn, "FAIL:0x03 - Stream already running")
		return true
	}
	dev.streaming = true
	dev.stopReason = ""
	dev.stop = make(chan struct{})
	stop := dev.stop
	cfg := dev.cfg
	dev.mu.Unlock()

	if _, err := fmt.Fprintf(conn, "%s\r\n", strings.Join(cfg.Channels, ",")); err != nil {
		dev.finish("Unknown")
		return false
	}

	var deadline <-chan time.Time
	if duration > 0 {
		deadline = time.After(duration)
	}

	reason := "User"
	seq := 0
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-deadline:
			break loop
		case <-time.After(cfg.RowInterval):
		}

		if _, err := fmt.Fprintf(conn, "%s\r\n", RowText(cfg, seq)); err != nil {
			reason = "Unknown"
			break loop
		}
		seq++

		if cfg.OverrunAfter > 0 && seq >= cfg.OverrunAfter {
			reason = "Overrun"
			break loop
		}
		if cfg.MaxRows > 0 && seq >= cfg.MaxRows {
			break loop
		}
	}

	dev.finish(reason)

	// End of stream: prompt returns the connection to command mode
	_, err := fmt.Fprintf(conn, "%s\r\n", ">")
	return err == nil
}

// reply writes a response payload followed by the prompt line.
func (s *Server) reply(conn net.Conn, payload string) {
	if payload != "" {
		fmt.Fprintf(conn, "%s\r\n", payload)
	}
	fmt.Fprintf(conn, "%s\r\n", ">")
}

// RowText returns the deterministic CSV row a simulated device emits for
// a given sequence number: the first channel carries the row time in
// microseconds, each further channel j carries 1000*j + seq.
func RowText(cfg DeviceConfig, seq int) string {
	cells := make([]string, len(cfg.Channels))
	cells[0] = fmt.Sprintf("%d", seq*int(cfg.RowInterval.Microseconds()))
	for j := 1; j < len(cfg.Channels); j++ {
		cells[j] = fmt.Sprintf("%d", 1000*j+seq)
	}
	return strings.Join(cells, ",")
}

// interrupt stops an active stream with the given reason.
func (d *simDevice) interrupt(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streaming && d.stop != nil {
		close(d.stop)
		d.stop = nil
		// Reason recorded by the streaming goroutine via finish, but
		// remember it here in case the stream already unblocked.
		d.stopReason = reason
	}
}

// finish marks the stream stopped. A reason set by interrupt wins.
func (d *simDevice) finish(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streaming = false
	if d.stopReason == "" {
		d.stopReason = reason
	}
}

// statusLine formats the "stream?" response.
func (d *simDevice) statusLine() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streaming {
		return "Running"
	}
	if d.stopReason == "" {
		return "Stopped : Unknown"
	}
	return "Stopped : " + d.stopReason
}
