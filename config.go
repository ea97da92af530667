package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration.
type Config struct {
	Serial     SerialConfig     `yaml:"serial"`
	Server     ServerConfig     `yaml:"server"`
	Spectrum   SpectrumConfig   `yaml:"spectrum"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

type SerialConfig struct {
	Port         string `yaml:"port"`
	BaudRate     int    `yaml:"baud_rate"`
	PollPeriodMs int    `yaml:"poll_period_ms"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

type SpectrumConfig struct {
	DeltaThresholdDB   float64            `yaml:"delta_threshold_db"`
	BaselineRefreshSec int                `yaml:"baseline_refresh_sec"`
	Default            SweepDefaultConfig `yaml:"default"`
}

// SweepDefaultConfig seeds the device state before the first config frame
// arrives from hardware.
type SweepDefaultConfig struct {
	StartFreqMHz float64 `yaml:"start_freq_mhz"`
	EndFreqMHz   float64 `yaml:"end_freq_mhz"`
	Steps        int     `yaml:"steps"`
	RBWKHz       float64 `yaml:"rbw_khz"`
}

func (s SweepDefaultConfig) SweepConfig() SweepConfig {
	return SweepConfig{
		StartFreqMHz: s.StartFreqMHz,
		EndFreqMHz:   s.EndFreqMHz,
		Steps:        s.Steps,
		RBWKHz:       s.RBWKHz,
	}
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoadConfig reads and parses the YAML config file, then fills defaults.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// DefaultConfig returns a configuration usable without a config file. The
// serial port must still be supplied on the command line.
func DefaultConfig() *Config {
	config := &Config{}
	config.applyDefaults()
	return config
}

func (c *Config) applyDefaults() {
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = 500000
	}
	if c.Serial.PollPeriodMs == 0 {
		c.Serial.PollPeriodMs = 10
	}
	if c.Server.Listen == "" {
		c.Server.Listen = "localhost:8765"
	}
	if c.Spectrum.DeltaThresholdDB == 0 {
		c.Spectrum.DeltaThresholdDB = 1.0
	}
	if c.Spectrum.BaselineRefreshSec == 0 {
		c.Spectrum.BaselineRefreshSec = 60
	}
	if c.Spectrum.Default.StartFreqMHz == 0 {
		c.Spectrum.Default.StartFreqMHz = 1990.0
	}
	if c.Spectrum.Default.EndFreqMHz == 0 {
		c.Spectrum.Default.EndFreqMHz = 6000.0
	}
	if c.Spectrum.Default.Steps == 0 {
		c.Spectrum.Default.Steps = 112
	}
	if c.Spectrum.Default.RBWKHz == 0 {
		c.Spectrum.Default.RBWKHz = 600.0
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "rfexplorer"
	}
}

// Validate checks for configuration errors that would prevent startup.
func (c *Config) Validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("serial.port is required (use --list to see available ports)")
	}
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate)
	}
	if c.Serial.PollPeriodMs <= 0 {
		return fmt.Errorf("serial.poll_period_ms must be positive, got %d", c.Serial.PollPeriodMs)
	}
	if c.Spectrum.Default.Steps < 0 {
		return fmt.Errorf("spectrum.default.steps must not be negative, got %d", c.Spectrum.Default.Steps)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enabled is true")
	}
	return nil
}
