// Package monitor renders the latest samples of several concurrently
// streaming devices at a fixed interval.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quarchtech/qis-go/pkg/stream"
)

// ErrMissingChannels indicates a device's stream header lacks required
// channels and the device was excluded from monitoring.
var ErrMissingChannels = errors.New("stream header missing required channels")

// DefaultInterval is the default refresh interval.
const DefaultInterval = time.Second

// Source supplies the data a monitor displays for one device.
// *stream.Stream implements it.
type Source interface {
	Header() stream.Header
	Latest(channel string) (string, bool)
}

// Compile-time interface satisfaction check.
var _ Source = (*stream.Stream)(nil)

// Config configures a Monitor.
type Config struct {
	// Channels are the channels displayed for each device, in order.
	Channels []string

	// Required are the channels a device's header must contain to be
	// admitted. Defaults to Channels.
	Required []string

	// Interval is the refresh interval (default: 1s).
	Interval time.Duration

	// Out receives the rendered lines (default: os.Stdout).
	Out io.Writer
}

// Monitor periodically prints the latest value of selected channels for
// a set of admitted devices. Devices that fail header validation are
// excluded without affecting the others.
type Monitor struct {
	config Config

	mu      sync.Mutex
	order   []string
	sources map[string]Source
}

// New creates a monitor.
func New(config Config) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Out == nil {
		config.Out = os.Stdout
	}
	if len(config.Required) == 0 {
		config.Required = config.Channels
	}

	return &Monitor{
		config:  config,
		sources: make(map[string]Source),
	}
}

// Add admits a device after validating its stream header against the
// required channels. A device with missing channels is rejected with
// ErrMissingChannels; already-admitted devices are unaffected.
func (m *Monitor) Add(serial string, source Source) error {
	if missing := source.Header().Missing(m.config.Required...); len(missing) > 0 {
		return fmt.Errorf("%w: %s lacks %s",
			ErrMissingChannels, serial, strings.Join(missing, ", "))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sources[serial]; !exists {
		m.order = append(m.order, serial)
	}
	m.sources[serial] = source
	return nil
}

// Remove drops a device from the display.
func (m *Monitor) Remove(serial string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sources[serial]; !exists {
		return
	}
	delete(m.sources, serial)
	for i, s := range m.order {
		if s == serial {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Devices returns the admitted device serials in display order.
func (m *Monitor) Devices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// Run refreshes the display every interval until ctx is cancelled.
// Cancellation (including an interrupt) is a clean exit.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Refresh()
		}
	}
}

// Refresh renders one snapshot: a line per admitted device that has
// data, followed by a blank separator line.
func (m *Monitor) Refresh() {
	m.mu.Lock()
	serials := append([]string(nil), m.order...)
	sources := make(map[string]Source, len(m.sources))
	for k, v := range m.sources {
		sources[k] = v
	}
	m.mu.Unlock()

	printed := false
	for _, serial := range serials {
		line, ok := m.deviceLine(serial, sources[serial])
		if !ok {
			continue
		}
		fmt.Fprintln(m.config.Out, line)
		printed = true
	}
	if printed {
		fmt.Fprintln(m.config.Out)
	}
}

// deviceLine formats the latest values of the configured channels for
// one device. It reports false when the device has no samples yet.
func (m *Monitor) deviceLine(serial string, source Source) (string, bool) {
	var sb strings.Builder
	sb.WriteString(serial)

	any := false
	for i, channel := range m.config.Channels {
		value, ok := source.Latest(channel)
		if !ok {
			value = "-"
		} else {
			any = true
		}
		if i == 0 {
			sb.WriteString(" ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(channel)
		sb.WriteString(": ")
		sb.WriteString(value)
	}
	return sb.String(), any
}

// Rejected formats a stable report of devices that failed admission,
// for operator display. Keys are serials, values the validation errors.
func Rejected(failures map[string]error) string {
	if len(failures) == 0 {
		return ""
	}
	serials := make([]string, 0, len(failures))
	for serial := range failures {
		serials = append(serials, serial)
	}
	sort.Strings(serials)

	var sb strings.Builder
	for _, serial := range serials {
		fmt.Fprintf(&sb, "%s excluded from monitoring: %v\n", serial, failures[serial])
	}
	return sb.String()
}
