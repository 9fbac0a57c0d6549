package qis

import (
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"time"
)

// Launcher defaults.
const (
	// DefaultStartupTimeout is how long to wait for a launched QIS to
	// start accepting connections.
	DefaultStartupTimeout = 30 * time.Second

	// probeTimeout is the per-attempt dial timeout when probing the port.
	probeTimeout = 2 * time.Second
)

// IsRunning reports whether a QIS service is accepting connections at addr.
func IsRunning(addr string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = probeTimeout
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// LauncherConfig configures how a local QIS process is started.
type LauncherConfig struct {
	// JavaPath is the java executable (default: "java").
	JavaPath string

	// JarPath is the path to the QIS jar. Required to launch.
	JarPath string

	// Args are extra arguments passed after the jar.
	Args []string

	// Host and Port the launched service will listen on
	// (defaults: 127.0.0.1:9722).
	Host string
	Port int

	// StartupTimeout is how long to wait for the port (default: 30s).
	StartupTimeout time.Duration

	// Stdout and Stderr receive the process output. Nil discards.
	Stdout io.Writer
	Stderr io.Writer
}

// Launcher starts and stops a local QIS process.
//
// EnsureRunning is a no-op when a service is already listening, and the
// launcher only shuts down a service it started itself.
type Launcher struct {
	config LauncherConfig
	addr   string

	cmd      *exec.Cmd
	waitDone chan struct{}
	started  bool
}

// NewLauncher creates a launcher for a local QIS process.
func NewLauncher(config LauncherConfig) *Launcher {
	if config.JavaPath == "" {
		config.JavaPath = "java"
	}
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.StartupTimeout == 0 {
		config.StartupTimeout = DefaultStartupTimeout
	}

	return &Launcher{
		config: config,
		addr:   net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
	}
}

// Addr returns the host:port the launcher manages.
func (l *Launcher) Addr() string {
	return l.addr
}

// StartedService reports whether this launcher spawned the service.
func (l *Launcher) StartedService() bool {
	return l.started
}

// EnsureRunning makes sure a QIS service is reachable, launching one if
// needed. It returns true if this call started the process.
func (l *Launcher) EnsureRunning(ctx context.Context) (bool, error) {
	if IsRunning(l.addr, probeTimeout) {
		return false, nil
	}

	if l.config.JarPath == "" {
		return false, fmt.Errorf("%w at %s and no jar path configured", ErrServiceNotRunning, l.addr)
	}

	args := append([]string{"-jar", l.config.JarPath}, l.config.Args...)
	cmd := exec.Command(l.config.JavaPath, args...)
	cmd.Stdout = l.config.Stdout
	cmd.Stderr = l.config.Stderr

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("failed to start qis process: %w", err)
	}
	l.cmd = cmd
	l.waitDone = make(chan struct{})

	// Reap the process when it exits
	go func() {
		_ = cmd.Wait()
		close(l.waitDone)
	}()

	if err := l.awaitReady(ctx); err != nil {
		_ = cmd.Process.Kill()
		return false, err
	}

	l.started = true
	return true, nil
}

// awaitReady polls the service port with exponential backoff until it
// accepts connections or the timeout elapses.
func (l *Launcher) awaitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.config.StartupTimeout)
	defer cancel()

	backoff := NewBackoff()
	for {
		if IsRunning(l.addr, probeTimeout) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("qis did not become ready at %s after %d attempts: %w",
				l.addr, backoff.Attempts(), ctx.Err())
		case <-time.After(backoff.Next()):
		}
	}
}

// Shutdown terminates a service this launcher started. It first asks the
// service to exit cleanly via $shutdown, then kills the process if it is
// still running after the context deadline.
func (l *Launcher) Shutdown(ctx context.Context) error {
	if !l.started {
		return nil
	}

	client := NewClient(Config{Host: l.config.Host, Port: l.config.Port})
	conn, err := client.Dial(ctx)
	if err == nil {
		_ = conn.Shutdown(ctx)
		conn.Close()
	}

	if l.cmd != nil && l.cmd.Process != nil {
		select {
		case <-l.waitDone:
		case <-ctx.Done():
			_ = l.cmd.Process.Kill()
		}
	}

	l.started = false
	return nil
}
