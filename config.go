package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the optional receiver settings that have no command-line
// surface. Everything here has a working default; the file itself is
// optional.
type Config struct {
	// MetricsListen enables the Prometheus /metrics endpoint on the given
	// address (e.g. "127.0.0.1:9090"). Empty disables it.
	MetricsListen string `yaml:"metrics_listen"`

	// DeemphasisUs is the de-emphasis time constant in microseconds;
	// 50 for Europe, 75 for the Americas.
	DeemphasisUs float64 `yaml:"deemphasis_us"`

	// PLLLoopHz is the pilot PLL closed-loop natural frequency in Hz.
	PLLLoopHz float64 `yaml:"pll_loop_hz"`

	// CaptureQueueBlocks is the capacity of the capture hand-off ring.
	CaptureQueueBlocks int `yaml:"capture_queue_blocks"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		DeemphasisUs:       defaultDeemphasis,
		PLLLoopHz:          pllLoopFreqHz,
		CaptureQueueBlocks: 32,
	}
}

// LoadConfig loads configuration from a YAML file on top of the defaults.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the loaded settings for sane values.
func (c *Config) Validate() error {
	if c.DeemphasisUs != 50 && c.DeemphasisUs != 75 {
		return fmt.Errorf("deemphasis_us must be 50 or 75, got %g", c.DeemphasisUs)
	}
	if c.PLLLoopHz <= 0 || c.PLLLoopHz > 1000 {
		return fmt.Errorf("pll_loop_hz must be in (0, 1000], got %g", c.PLLLoopHz)
	}
	if c.CaptureQueueBlocks < 2 {
		return fmt.Errorf("capture_queue_blocks must be at least 2, got %d", c.CaptureQueueBlocks)
	}
	return nil
}
