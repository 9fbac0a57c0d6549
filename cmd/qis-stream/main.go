// Command qis-stream records power measurements from Quarch power
// modules through a local QIS instance.
//
// This command demonstrates the complete streaming workflow:
//   - Probing for (or launching) a QIS service
//   - Connecting multiple power modules at once
//   - Streaming measurements to one CSV file per module
//   - Live monitoring of selected channels on the console
//   - Optional protocol capture to a .qlog file
//
// Usage:
//
//	qis-stream [flags]
//
// Flags:
//
//	-config string    Configuration file path (YAML)
//	-host string      QIS host (default "127.0.0.1")
//	-port int         QIS command port (default 9722)
//	-devices string   Comma-separated device IDs (overrides config)
//	-launch           Launch QIS when no service is reachable
//	-jar string       Path to qis.jar (required with -launch)
//	-java string      Java executable used with -launch (default "java")
//	-out string       Output directory for CSV files (default ".")
//	-duration duration  Stream duration for both examples (overrides config)
//	-capture string   Write a protocol capture log to this .qlog file
//	-discover         Browse the LAN for QIS instances first
//	-interactive      Drop into an interactive prompt instead
//	-log-level string Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Stream the configured modules through a local QIS
//	qis-stream -config bench.yaml -out ./results
//
//	# Launch QIS first, stream two modules for ten seconds
//	qis-stream -launch -jar /opt/quarch/qis.jar \
//	    -devices TCP:QTL2789-01-001,TCP:QTL2789-01-002 -duration 10s
//
//	# Find a QIS on the network and open the interactive prompt
//	qis-stream -discover -interactive
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quarchtech/qis-go/pkg/config"
	"github.com/quarchtech/qis-go/pkg/device"
	"github.com/quarchtech/qis-go/pkg/discovery"
	"github.com/quarchtech/qis-go/pkg/monitor"
	"github.com/quarchtech/qis-go/pkg/qis"
	"github.com/quarchtech/qis-go/pkg/qislog"
)

// Options holds the parsed command line.
type Options struct {
	ConfigFile  string
	Host        string
	Port        int
	Devices     string
	Launch      bool
	JarPath     string
	JavaPath    string
	OutputDir   string
	Duration    time.Duration
	CaptureFile string
	Discover    bool
	Interactive bool
	LogLevel    string
}

var opts Options

func init() {
	flag.StringVar(&opts.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&opts.Host, "host", "", "QIS host (default from config)")
	flag.IntVar(&opts.Port, "port", 0, "QIS command port (default from config)")
	flag.StringVar(&opts.Devices, "devices", "", "Comma-separated device IDs (overrides config)")
	flag.BoolVar(&opts.Launch, "launch", false, "Launch QIS when no service is reachable")
	flag.StringVar(&opts.JarPath, "jar", "", "Path to qis.jar (required with -launch)")
	flag.StringVar(&opts.JavaPath, "java", "", "Java executable used with -launch")
	flag.StringVar(&opts.OutputDir, "out", "", "Output directory for CSV files (default from config)")
	flag.DurationVar(&opts.Duration, "duration", 0, "Stream duration for both examples (overrides config)")
	flag.StringVar(&opts.CaptureFile, "capture", "", "Write a protocol capture log to this file")
	flag.BoolVar(&opts.Discover, "discover", false, "Browse the LAN for QIS instances first")
	flag.BoolVar(&opts.Interactive, "interactive", false, "Drop into an interactive prompt instead")
	flag.StringVar(&opts.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()
	setupLogging(opts.LogLevel)

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	applyOverrides(&cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Discover {
		if err := discoverQIS(ctx, &cfg); err != nil {
			log.Fatalf("Discovery failed: %v", err)
		}
	}

	logger, closeLogger, err := buildCaptureLogger()
	if err != nil {
		log.Fatalf("Failed to open capture log: %v", err)
	}
	defer closeLogger()

	launcher := qis.NewLauncher(qis.LauncherConfig{
		JavaPath: opts.JavaPath,
		JarPath:  opts.JarPath,
		Host:     cfg.QIS.Host,
		Port:     cfg.QIS.Port,
		Stdout:   os.Stderr,
		Stderr:   os.Stderr,
	})

	if opts.Launch {
		started, err := launcher.EnsureRunning(ctx)
		if err != nil {
			log.Fatalf("Failed to start QIS: %v", err)
		}
		if started {
			log.Printf("Launched QIS on %s", launcher.Addr())
		} else {
			log.Printf("QIS already running on %s", launcher.Addr())
		}
	} else if !qis.IsRunning(fmt.Sprintf("%s:%d", cfg.QIS.Host, cfg.QIS.Port), 2*time.Second) {
		log.Fatalf("No QIS service on %s:%d (use -launch to start one)", cfg.QIS.Host, cfg.QIS.Port)
	}

	client := qis.NewClient(qis.Config{
		Host:   cfg.QIS.Host,
		Port:   cfg.QIS.Port,
		Logger: logger,
	})

	conn, err := client.Dial(ctx)
	if err != nil {
		fatalf(launcher, "Failed to connect to QIS: %v", err)
	}
	defer conn.Close()

	version, err := conn.Version(ctx)
	if err != nil {
		fatalf(launcher, "Failed to query QIS version: %v", err)
	}
	log.Printf("Connected to %s", version)

	if opts.Interactive {
		if err := runInteractive(ctx, client, conn, cfg); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Interactive session failed: %v", err)
		}
	} else {
		modules := connectModules(ctx, client, conn, cfg.Devices)
		if len(modules) == 0 {
			fatalf(launcher, "No devices available")
		}

		runCaptureExample(ctx, modules, cfg.Capture)
		if ctx.Err() == nil {
			runMonitorExample(ctx, modules, cfg.Monitor)
		}
	}

	shutdownLauncher(launcher)
}

func setupLogging(level string) {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	slogLevel := slog.LevelInfo
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
	case "warn":
		slogLevel = slog.LevelWarn
		log.SetFlags(log.Ltime)
	case "error":
		slogLevel = slog.LevelError
		log.SetFlags(log.Ltime)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel,
	})))
}

// applyOverrides layers command-line flags over the file configuration.
func applyOverrides(cfg *config.Config) {
	if opts.Host != "" {
		cfg.QIS.Host = opts.Host
	}
	if opts.Port != 0 {
		cfg.QIS.Port = opts.Port
	}
	if opts.Devices != "" {
		cfg.Devices = cfg.Devices[:0]
		for _, id := range strings.Split(opts.Devices, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.Devices = append(cfg.Devices, id)
			}
		}
	}
	if opts.OutputDir != "" {
		cfg.Capture.OutputDir = opts.OutputDir
	}
	if opts.Duration > 0 {
		cfg.Capture.Duration = config.Duration(opts.Duration)
		cfg.Monitor.Duration = config.Duration(opts.Duration)
	}
}

// discoverQIS browses the LAN and retargets the configuration at the
// first instance found. Finding nothing leaves the configuration alone.
func discoverQIS(ctx context.Context, cfg *config.Config) error {
	log.Println("Browsing for QIS instances...")

	browser := discovery.NewBrowser(discovery.BrowserConfig{})
	services, err := browser.Browse(ctx)
	if err != nil {
		return err
	}
	if len(services) == 0 {
		log.Println("No QIS instances found, using configured address")
		return nil
	}

	for _, svc := range services {
		version := svc.Version
		if version == "" {
			version = "unknown version"
		}
		log.Printf("  %s (%s) at %s", svc.Instance, version, svc.Addr())
	}

	// Only retarget when the user did not pin an address.
	if opts.Host == "" {
		first := services[0]
		cfg.QIS.Host = strings.TrimSuffix(first.Host, ".")
		if len(first.Addresses) > 0 {
			cfg.QIS.Host = first.Addresses[0]
		}
		cfg.QIS.Port = first.Port
		log.Printf("Using %s", first.Instance)
	}
	return nil
}

// buildCaptureLogger assembles the protocol capture chain: a .qlog
// file when -capture is given, plus debug logging at -log-level debug.
func buildCaptureLogger() (qislog.Logger, func(), error) {
	var loggers []qislog.Logger

	closeLogger := func() {}
	if opts.CaptureFile != "" {
		fl, err := qislog.NewFileLogger(opts.CaptureFile)
		if err != nil {
			return nil, nil, err
		}
		closeLogger = func() {
			if err := fl.Close(); err != nil {
				log.Printf("Error closing capture log: %v", err)
			}
		}
		loggers = append(loggers, fl)
	}
	if opts.LogLevel == "debug" {
		loggers = append(loggers, qislog.NewSlogAdapter(slog.Default()))
	}

	switch len(loggers) {
	case 0:
		return qislog.NoopLogger{}, closeLogger, nil
	case 1:
		return loggers[0], closeLogger, nil
	default:
		return qislog.NewMultiLogger(loggers...), closeLogger, nil
	}
}

// connectModules wraps every configured device ID as a power module,
// skipping the ones QIS does not know about.
func connectModules(ctx context.Context, client *qis.Client, conn *qis.Conn, ids []string) []*device.PowerModule {
	modules := make([]*device.PowerModule, 0, len(ids))
	for _, id := range ids {
		m := device.NewPowerModule(client, conn, id)
		// A status query doubles as a connectivity check.
		if _, err := m.StreamStatus(ctx); err != nil {
			log.Printf("Skipping %s: %v", m.Serial(), err)
			continue
		}
		log.Printf("Connected module %s", m.Serial())
		modules = append(modules, m)
	}
	return modules
}

// runCaptureExample streams every module for a fixed duration and
// exports one CSV file per module.
func runCaptureExample(ctx context.Context, modules []*device.PowerModule, cfg config.CaptureConfig) {
	log.Println("")
	log.Println("=== Example 1: stream to file ===")

	active := startStreams(ctx, modules, cfg.Resample, device.StreamOptions{
		Duration: cfg.Duration.Std(),
	})
	if len(active) == 0 {
		log.Println("No streams started")
		return
	}

	for _, m := range active {
		status, err := m.AwaitStreamEnd(ctx, device.DefaultStatusPollInterval)
		if err != nil {
			log.Printf("%s: wait failed: %v", m.Serial(), err)
		} else {
			log.Printf("%s: %s", m.Serial(), status.Describe())
		}

		st, err := m.Stream()
		if err != nil {
			log.Printf("%s: %v", m.Serial(), err)
			continue
		}
		if err := m.StopStream(ctx); err != nil {
			log.Printf("%s: stop failed: %v", m.Serial(), err)
		}

		path, err := st.ExportCSV(cfg.OutputDir, m.Serial())
		if err != nil {
			log.Printf("%s: export failed: %v", m.Serial(), err)
			continue
		}
		log.Printf("%s: wrote %d rows to %s", m.Serial(), st.Len(), path)
	}
}

// runMonitorExample streams every module and prints the monitored
// channels until the duration elapses or the user interrupts.
func runMonitorExample(ctx context.Context, modules []*device.PowerModule, cfg config.MonitorConfig) {
	log.Println("")
	log.Println("=== Example 2: live monitor ===")

	active := startStreams(ctx, modules, cfg.Resample, device.StreamOptions{
		Duration: cfg.Duration.Std(),
	})
	if len(active) == 0 {
		log.Println("No streams started")
		return
	}

	mon := monitor.New(monitor.Config{
		Channels: cfg.Channels,
		Interval: cfg.Interval.Std(),
	})

	failures := make(map[string]error)
	for _, m := range active {
		st, err := m.Stream()
		if err != nil {
			failures[m.Serial()] = err
			continue
		}
		if err := mon.Add(m.Serial(), st); err != nil {
			failures[m.Serial()] = err
		}
	}
	if len(failures) > 0 {
		fmt.Print(monitor.Rejected(failures))
	}
	if len(mon.Devices()) == 0 {
		log.Println("No devices to monitor")
		stopStreams(ctx, active)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration.Std())
	defer cancel()

	log.Printf("Monitoring %d device(s), Ctrl-C to stop", len(mon.Devices()))
	if err := mon.Run(runCtx); err != nil {
		log.Printf("Monitor failed: %v", err)
	}

	stopStreams(ctx, active)

	// The signal context may already be cancelled by Ctrl-C; the
	// final status check still has to reach the instruments.
	statusCtx, statusCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer statusCancel()
	for _, m := range active {
		status, err := m.StreamStatus(statusCtx)
		if err != nil {
			log.Printf("%s: status check failed: %v", m.Serial(), err)
			continue
		}
		log.Printf("%s: %s", m.Serial(), status.Describe())
	}
}

// startStreams applies the resampling mode and starts a stream on
// every module. A module that fails is stopped and skipped; the rest
// keep running.
func startStreams(ctx context.Context, modules []*device.PowerModule, resample string, streamOpts device.StreamOptions) []*device.PowerModule {
	active := make([]*device.PowerModule, 0, len(modules))
	for _, m := range modules {
		if err := m.StreamResampleMode(ctx, resample); err != nil {
			log.Printf("Skipping %s: resample failed: %v", m.Serial(), err)
			continue
		}
		if _, err := m.StartStream(ctx, streamOpts); err != nil {
			log.Printf("Skipping %s: stream failed: %v", m.Serial(), err)
			if stopErr := m.StopStream(ctx); stopErr != nil && !errors.Is(stopErr, device.ErrNoStream) {
				log.Printf("%s: cleanup failed: %v", m.Serial(), stopErr)
			}
			continue
		}
		log.Printf("%s: streaming", m.Serial())
		active = append(active, m)
	}
	return active
}

// stopStreams stops every module, best effort. Interrupting the
// monitor must still leave the instruments idle.
func stopStreams(_ context.Context, modules []*device.PowerModule) {
	// The parent context may already be cancelled by Ctrl-C.
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, m := range modules {
		if err := m.StopStream(stopCtx); err != nil && !errors.Is(err, device.ErrNoStream) {
			log.Printf("%s: stop failed: %v", m.Serial(), err)
		}
	}
}

// fatalf exits like log.Fatalf but stops a QIS we started ourselves
// first, so a failed run never leaves an orphaned service behind.
func fatalf(launcher *qis.Launcher, format string, args ...any) {
	shutdownLauncher(launcher)
	log.Fatalf(format, args...)
}

// shutdownLauncher stops a QIS we started ourselves.
func shutdownLauncher(launcher *qis.Launcher) {
	if !launcher.StartedService() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := launcher.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down QIS: %v", err)
	}
}
