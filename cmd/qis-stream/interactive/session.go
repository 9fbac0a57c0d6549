// Package interactive provides the interactive command prompt for
// qis-stream.
package interactive

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/quarchtech/qis-go/pkg/config"
	"github.com/quarchtech/qis-go/pkg/device"
	"github.com/quarchtech/qis-go/pkg/monitor"
	"github.com/quarchtech/qis-go/pkg/qis"
)

// Session handles interactive mode for qis-stream.
type Session struct {
	client *qis.Client
	conn   *qis.Conn
	cfg    config.Config
	rl     *readline.Instance

	// Connected modules, keyed by serial number.
	modules map[string]*device.PowerModule
}

// New creates a new interactive session.
func New(client *qis.Client, conn *qis.Conn, cfg config.Config) (*Session, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "qis> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Session{
		client:  client,
		conn:    conn,
		cfg:     cfg,
		rl:      rl,
		modules: make(map[string]*device.PowerModule),
	}, nil
}

// Run starts the interactive command loop. It returns when the user
// quits or the context is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer s.rl.Close()
	defer s.stopAll()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			return nil
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()

		case "version", "v":
			s.cmdVersion(ctx)

		case "scan":
			s.cmdScan(ctx)

		case "list", "l":
			s.cmdList(ctx)

		case "connect", "c":
			s.cmdConnect(ctx, args)

		case "modules", "m":
			s.cmdModules()

		case "resample":
			s.cmdResample(ctx, args)

		case "start":
			s.cmdStart(ctx, args)

		case "stop":
			s.cmdStop(ctx, args)

		case "status", "s":
			s.cmdStatus(ctx, args)

		case "monitor":
			s.cmdMonitor(ctx, args)

		case "save":
			s.cmdSave(args)

		case "quit", "exit", "q":
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			return nil

		default:
			fmt.Fprintf(s.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (s *Session) printHelp() {
	fmt.Fprintln(s.rl.Stdout(), `
QIS Commands:
  Service:
    version            - Show the QIS version
    scan               - Rescan for attached instruments
    list               - List instruments known to QIS

  Modules:
    connect <id>       - Connect a power module (e.g. TCP:QTL2789-01-001)
    modules            - Show connected modules
    resample <serial> <rate> - Set the resampling rate (e.g. 1ms)

  Streaming:
    start <serial> [duration] - Start streaming (e.g. start QTL2789-01-001 10s)
    stop <serial>      - Stop streaming
    status <serial>    - Show the stream status
    monitor [duration] - Show live values for all streaming modules
    save <serial> [dir] - Export the buffered stream to a CSV file

  General:
    help               - Show this help
    quit               - Exit`)
}

// cmdVersion handles the version command.
func (s *Session) cmdVersion(ctx context.Context) {
	version, err := s.conn.Version(ctx)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintln(s.rl.Stdout(), version)
}

// cmdScan handles the scan command.
func (s *Session) cmdScan(ctx context.Context) {
	devices, err := s.conn.Scan(ctx)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return
	}
	s.printDevices(devices)
}

// cmdList handles the list command.
func (s *Session) cmdList(ctx context.Context) {
	devices, err := s.conn.List(ctx)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return
	}
	s.printDevices(devices)
}

func (s *Session) printDevices(devices []string) {
	if len(devices) == 0 {
		fmt.Fprintln(s.rl.Stdout(), "No devices found")
		return
	}
	for _, id := range devices {
		marker := " "
		if _, connected := s.modules[device.Serial(id)]; connected {
			marker = "*"
		}
		fmt.Fprintf(s.rl.Stdout(), "  %s %s\n", marker, id)
	}
}

// cmdConnect handles the connect command.
func (s *Session) cmdConnect(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: connect <id>")
		fmt.Fprintln(s.rl.Stdout(), "  Example: connect TCP:QTL2789-01-001")
		return
	}

	m := device.NewPowerModule(s.client, s.conn, args[0])
	if _, err := m.StreamStatus(ctx); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Failed to connect: %v\n", err)
		return
	}

	s.modules[m.Serial()] = m
	fmt.Fprintf(s.rl.Stdout(), "Connected %s\n", m.Serial())
}

// cmdModules handles the modules command.
func (s *Session) cmdModules() {
	if len(s.modules) == 0 {
		fmt.Fprintln(s.rl.Stdout(), "No modules connected (use 'connect <id>')")
		return
	}
	for _, serial := range s.serials() {
		m := s.modules[serial]
		state := "idle"
		if st, err := m.Stream(); err == nil {
			select {
			case <-st.Done():
				state = fmt.Sprintf("stopped, %d rows buffered", st.Len())
			default:
				state = fmt.Sprintf("streaming, %d rows buffered", st.Len())
			}
		}
		fmt.Fprintf(s.rl.Stdout(), "  %s (%s) - %s\n", serial, m.ID(), state)
	}
}

// cmdResample handles the resample command.
func (s *Session) cmdResample(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: resample <serial> <rate>")
		fmt.Fprintln(s.rl.Stdout(), "  Example: resample QTL2789-01-001 1ms")
		return
	}

	m := s.module(args[0])
	if m == nil {
		return
	}
	if err := m.StreamResampleMode(ctx, args[1]); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintln(s.rl.Stdout(), "OK")
}

// cmdStart handles the start command.
func (s *Session) cmdStart(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: start <serial> [duration]")
		fmt.Fprintln(s.rl.Stdout(), "  Example: start QTL2789-01-001 10s")
		return
	}

	m := s.module(args[0])
	if m == nil {
		return
	}

	var opts device.StreamOptions
	if len(args) >= 2 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			fmt.Fprintf(s.rl.Stdout(), "Invalid duration: %v\n", err)
			return
		}
		opts.Duration = d
	}

	st, err := m.StartStream(ctx, opts)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Failed to start stream: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "Streaming: %s\n", st.Header())
}

// cmdStop handles the stop command.
func (s *Session) cmdStop(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: stop <serial>")
		return
	}

	m := s.module(args[0])
	if m == nil {
		return
	}
	if err := m.StopStream(ctx); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return
	}

	if st, err := m.Stream(); err == nil {
		fmt.Fprintf(s.rl.Stdout(), "Stopped, %d rows buffered\n", st.Len())
	} else {
		fmt.Fprintln(s.rl.Stdout(), "Stopped")
	}
}

// cmdStatus handles the status command.
func (s *Session) cmdStatus(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: status <serial>")
		return
	}

	m := s.module(args[0])
	if m == nil {
		return
	}
	status, err := m.StreamStatus(ctx)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintln(s.rl.Stdout(), status.Describe())
}

// cmdMonitor handles the monitor command. It blocks until the
// duration elapses.
func (s *Session) cmdMonitor(ctx context.Context, args []string) {
	duration := s.cfg.Monitor.Duration.Std()
	if len(args) >= 1 {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			fmt.Fprintf(s.rl.Stdout(), "Invalid duration: %v\n", err)
			return
		}
		duration = d
	}

	mon := monitor.New(monitor.Config{
		Channels: s.cfg.Monitor.Channels,
		Interval: s.cfg.Monitor.Interval.Std(),
		Out:      s.rl.Stdout(),
	})

	failures := make(map[string]error)
	for _, serial := range s.serials() {
		st, err := s.modules[serial].Stream()
		if err != nil {
			continue
		}
		if err := mon.Add(serial, st); err != nil {
			failures[serial] = err
		}
	}
	if len(failures) > 0 {
		fmt.Fprint(s.rl.Stdout(), monitor.Rejected(failures))
	}
	if len(mon.Devices()) == 0 {
		fmt.Fprintln(s.rl.Stdout(), "No streaming modules to monitor (use 'start <serial>')")
		return
	}

	fmt.Fprintf(s.rl.Stdout(), "Monitoring %d module(s) for %s\n", len(mon.Devices()), duration)

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()
	if err := mon.Run(runCtx); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Monitor failed: %v\n", err)
	}
}

// cmdSave handles the save command.
func (s *Session) cmdSave(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: save <serial> [dir]")
		return
	}

	m := s.module(args[0])
	if m == nil {
		return
	}
	st, err := m.Stream()
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return
	}

	dir := s.cfg.Capture.OutputDir
	if len(args) >= 2 {
		dir = args[1]
	}

	path, err := st.ExportCSV(dir, m.Serial())
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Export failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "Wrote %d rows to %s\n", st.Len(), path)
}

// module looks up a connected module, accepting partial serials.
func (s *Session) module(serial string) *device.PowerModule {
	if m, ok := s.modules[serial]; ok {
		return m
	}
	for known, m := range s.modules {
		if strings.Contains(known, serial) {
			return m
		}
	}
	fmt.Fprintf(s.rl.Stdout(), "Module not found: %s (use 'connect <id>' first)\n", serial)
	return nil
}

// serials returns the connected serials in stable order.
func (s *Session) serials() []string {
	serials := make([]string, 0, len(s.modules))
	for serial := range s.modules {
		serials = append(serials, serial)
	}
	sort.Strings(serials)
	return serials
}

// stopAll stops every module that is still streaming when the
// session ends.
func (s *Session) stopAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, serial := range s.serials() {
		m := s.modules[serial]
		st, err := m.Stream()
		if err != nil {
			continue
		}
		select {
		case <-st.Done():
			continue
		default:
		}
		if err := m.StopStream(ctx); err != nil {
			fmt.Fprintf(s.rl.Stdout(), "%s: stop failed: %v\n", serial, err)
		}
	}
}
