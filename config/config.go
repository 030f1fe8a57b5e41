// Package config loads and validates the service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/soundpost/errors"
)

// Duration wraps time.Duration so YAML accepts "10s" style values
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// EndpointConfig is one broker address
type EndpointConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// BrokerConfig controls connectivity and failover
type BrokerConfig struct {
	Primary           EndpointConfig `yaml:"primary"`
	Fallback          EndpointConfig `yaml:"fallback"`
	FailoverThreshold int            `yaml:"failover_threshold"`
	ConnectTimeout    Duration       `yaml:"connect_timeout"`
	ReconnectMin      Duration       `yaml:"reconnect_min"`
	ReconnectMax      Duration       `yaml:"reconnect_max"`
}

// StagingConfig controls payload spooling
type StagingConfig struct {
	Dir             string `yaml:"dir"`
	MaxPayloadBytes int    `yaml:"max_payload_bytes"`
}

// AudioConfig shapes the decode pipeline
type AudioConfig struct {
	SampleRateHz   int `yaml:"sample_rate_hz"`
	FrameMs        int `yaml:"frame_ms"`
	OutputChannels int `yaml:"output_channels"`
}

// QueueConfig bounds pending alerts
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// ConsoleConfig controls the remote debug channel. The console always pins
// to the primary endpoint so an operator keeps a way in during failover.
type ConsoleConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Config is the complete service configuration
type Config struct {
	Device  string        `yaml:"device"`
	Broker  BrokerConfig  `yaml:"broker"`
	Staging StagingConfig `yaml:"staging"`
	Audio   AudioConfig   `yaml:"audio"`
	Queue   QueueConfig   `yaml:"queue"`
	Console ConsoleConfig `yaml:"console"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// Default returns a configuration with every tunable at its default
func Default() *Config {
	return &Config{
		Device: "speaker",
		Broker: BrokerConfig{
			FailoverThreshold: 5,
			ConnectTimeout:    Duration(10 * time.Second),
			ReconnectMin:      Duration(5 * time.Second),
			ReconnectMax:      Duration(60 * time.Second),
		},
		Staging: StagingConfig{
			Dir:             "/var/lib/soundpost/staging",
			MaxPayloadBytes: 16 << 20,
		},
		Audio: AudioConfig{
			SampleRateHz:   48000,
			FrameMs:        20,
			OutputChannels: 2,
		},
		Queue:   QueueConfig{Capacity: 16},
		Console: ConsoleConfig{Enabled: false},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9102"},
	}
}

// Load reads path over the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "read config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "parse config YAML")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for use
func (c *Config) Validate() error {
	fail := func(what string) error {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"config", "Validate", what)
	}

	if c.Device == "" {
		return fail("require device name")
	}
	if c.Broker.Primary.Host == "" || c.Broker.Primary.Port <= 0 {
		return fail("require primary broker endpoint")
	}
	if c.Broker.Fallback.Host == "" || c.Broker.Fallback.Port <= 0 {
		return fail("require fallback broker endpoint")
	}
	if c.Broker.FailoverThreshold <= 0 {
		return fail(fmt.Sprintf("accept failover threshold %d", c.Broker.FailoverThreshold))
	}
	if c.Broker.ConnectTimeout.Std() <= 0 {
		return fail("accept non-positive connect timeout")
	}
	if c.Broker.ReconnectMin.Std() <= 0 ||
		c.Broker.ReconnectMax.Std() < c.Broker.ReconnectMin.Std() {
		return fail("accept reconnect backoff bounds")
	}
	if c.Staging.Dir == "" {
		return fail("require staging directory")
	}
	if c.Staging.MaxPayloadBytes <= 0 {
		return fail(fmt.Sprintf("accept max payload %d", c.Staging.MaxPayloadBytes))
	}
	if c.Audio.SampleRateHz <= 0 || c.Audio.FrameMs <= 0 {
		return fail("accept audio timing")
	}
	if c.Audio.OutputChannels < 1 || c.Audio.OutputChannels > 2 {
		return fail(fmt.Sprintf("accept %d output channels", c.Audio.OutputChannels))
	}
	if c.Queue.Capacity <= 0 {
		return fail(fmt.Sprintf("accept queue capacity %d", c.Queue.Capacity))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fail("require metrics listen address")
	}
	return nil
}

// AlertSubject returns the broker subject carrying this device's alerts
func (c *Config) AlertSubject() string {
	return fmt.Sprintf("soundpost.alert.%s", c.Device)
}

// ConsoleSubject returns the broker subject for console commands
func (c *Config) ConsoleSubject() string {
	return fmt.Sprintf("soundpost.console.%s", c.Device)
}
