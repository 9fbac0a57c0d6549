// Package config loads the run configuration for multi-device power
// streaming: the QIS endpoint, the device list and the capture and
// monitoring parameters. Built-in defaults mirror the AN-032
// application note; a YAML file overlays them.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings
// ("30s", "500ms").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// QISConfig locates the QIS service.
type QISConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// CaptureConfig parameterizes the stream-to-file example.
type CaptureConfig struct {
	// Resample is the QIS resampling rate for the capture.
	Resample string `yaml:"resample"`

	// Duration is how long every device streams.
	Duration Duration `yaml:"duration"`

	// OutputDir receives one CSV file per device.
	OutputDir string `yaml:"output_dir"`
}

// MonitorConfig parameterizes the live-monitoring example.
type MonitorConfig struct {
	// Resample is the QIS resampling rate while monitoring.
	Resample string `yaml:"resample"`

	// Duration is how long the monitor runs.
	Duration Duration `yaml:"duration"`

	// Interval is the display refresh interval.
	Interval Duration `yaml:"interval"`

	// Channels are the channels shown for each device.
	Channels []string `yaml:"channels"`
}

// Config is the complete run configuration.
type Config struct {
	QIS     QISConfig     `yaml:"qis"`
	Devices []string      `yaml:"devices"`
	Capture CaptureConfig `yaml:"capture"`
	Monitor MonitorConfig `yaml:"monitor"`
}

// Default returns the built-in configuration. The device list and
// monitored channels match the application-note example and are meant
// to be replaced with your own modules.
func Default() Config {
	return Config{
		QIS: QISConfig{
			Host: "127.0.0.1",
			Port: 9722,
		},
		Devices: []string{
			"TCP:QTL2789-01-001",
			"TCP:QTL2789-01-002",
			"TCP:QTL2582-01-005",
			"TCP:QTL2582-01-006",
			"TCP:QTL2843-03-002",
			"TCP:QTL2751-02-002",
			"TCP:QTL2751-01-001",
		},
		Capture: CaptureConfig{
			Resample:  "1ms",
			Duration:  Duration(30 * time.Second),
			OutputDir: ".",
		},
		Monitor: MonitorConfig{
			Resample: "500ms",
			Duration: Duration(30 * time.Second),
			Interval: Duration(time.Second),
			Channels: []string{"L1_RMS mV", "L1_RMS mA", "Tot_PApp mVA"},
		},
	}
}

// Load reads a YAML file and overlays it on the defaults.
// An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.QIS.Host == "" {
		return fmt.Errorf("qis.host must not be empty")
	}
	if c.QIS.Port <= 0 || c.QIS.Port > 65535 {
		return fmt.Errorf("qis.port %d out of range", c.QIS.Port)
	}
	if len(c.Devices) == 0 {
		return fmt.Errorf("at least one device must be configured")
	}
	seen := make(map[string]struct{}, len(c.Devices))
	for _, id := range c.Devices {
		if id == "" {
			return fmt.Errorf("device identifiers must not be empty")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate device %q", id)
		}
		seen[id] = struct{}{}
	}
	if c.Capture.Duration <= 0 {
		return fmt.Errorf("capture.duration must be positive")
	}
	if c.Monitor.Duration <= 0 {
		return fmt.Errorf("monitor.duration must be positive")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if len(c.Monitor.Channels) == 0 {
		return fmt.Errorf("monitor.channels must not be empty")
	}
	return nil
}
