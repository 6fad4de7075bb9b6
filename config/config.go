// Package config loads the settings of a simulated DMA platform.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"

	"github.com/sarchlab/aicdma/dma"
	"github.com/sarchlab/aicdma/sim"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AICDMA_"

// Config is the full platform description.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Controller ControllerConfig `yaml:"controller"`
	Simulator  SimulatorConfig  `yaml:"simulator"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Trace      TraceConfig      `yaml:"trace"`
}

// ControllerConfig is the hardware profile.
type ControllerConfig struct {
	Channels        int `yaml:"channels"`
	Ports           int `yaml:"ports"`
	VirtualChannels int `yaml:"virtual_channels"`
	Dedicated       int `yaml:"dedicated"`
}

// SimulatorConfig describes the simulated controller and memory.
type SimulatorConfig struct {
	FreqMHz       float64 `yaml:"freq_mhz"`
	BytesPerCycle uint32  `yaml:"bytes_per_cycle"`
	MemorySize    uint64  `yaml:"memory_size"`
	PoolBase      uint32  `yaml:"pool_base"`
	PoolSize      int     `yaml:"pool_size"`
}

// MonitorConfig controls the monitoring server.
type MonitorConfig struct {
	Enabled     bool `yaml:"enabled"`
	Port        int  `yaml:"port"`
	OpenBrowser bool `yaml:"open_browser"`
}

// TraceConfig controls transfer tracing.
type TraceConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	BatchSize int    `yaml:"batch_size"`
	Periods   bool   `yaml:"periods"`
}

// Default returns the settings used for everything a file leaves out.
func Default() Config {
	caps := dma.DefaultCapabilities()

	return Config{
		LogLevel: "info",
		Controller: ControllerConfig{
			Channels:        caps.NumChannels,
			Ports:           caps.NumPorts,
			VirtualChannels: caps.NumVirtualChannels,
		},
		Simulator: SimulatorConfig{
			FreqMHz:       200,
			BytesPerCycle: 16,
			MemorySize:    64 << 20,
			PoolBase:      0x1000,
			PoolSize:      256,
		},
		Trace: TraceConfig{
			BatchSize: 10000,
		},
	}
}

// Load reads a YAML file, fills what it leaves out from Default and applies
// the environment overrides. An empty path loads the defaults only.
func Load(path string, envFiles ...string) (Config, error) {
	var c Config

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("reading config: %w", err)
		}

		if err := Parse(raw, &c); err != nil {
			return c, err
		}
	} else {
		c = Default()
	}

	if err := c.ApplyEnv(envFiles...); err != nil {
		return c, err
	}

	return c, c.Validate()
}

// Parse decodes raw YAML into c and merges in the defaults.
func Parse(raw []byte, c *Config) error {
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	if err := mergo.Merge(c, Default()); err != nil {
		return fmt.Errorf("merging defaults: %w", err)
	}

	return nil
}

// ApplyEnv overrides settings from AICDMA_* variables. Values from the
// process environment win over the ones in envFiles. Missing files are
// skipped.
func (c *Config) ApplyEnv(envFiles ...string) error {
	env := map[string]string{}

	for _, f := range envFiles {
		vals, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return fmt.Errorf("reading %s: %w", f, err)
		}

		for k, v := range vals {
			env[k] = v
		}
	}

	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, EnvPrefix) {
			env[k] = v
		}
	}

	for k, v := range env {
		if err := c.set(strings.TrimPrefix(k, EnvPrefix), v); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
	}

	return nil
}

func (c *Config) set(key, value string) error {
	var err error

	switch key {
	case "LOG_LEVEL":
		c.LogLevel = value
	case "CHANNELS":
		c.Controller.Channels, err = strconv.Atoi(value)
	case "DEDICATED":
		c.Controller.Dedicated, err = strconv.Atoi(value)
	case "FREQ_MHZ":
		c.Simulator.FreqMHz, err = strconv.ParseFloat(value, 64)
	case "MONITOR":
		c.Monitor.Enabled, err = strconv.ParseBool(value)
	case "MONITOR_PORT":
		c.Monitor.Port, err = strconv.Atoi(value)
	case "TRACE":
		c.Trace.Enabled, err = strconv.ParseBool(value)
	case "TRACE_PATH":
		c.Trace.Path = value
	}

	return err
}

// Capabilities returns the controller profile.
func (c Config) Capabilities() dma.Capabilities {
	caps := dma.DefaultCapabilities()
	caps.NumChannels = c.Controller.Channels
	caps.NumPorts = c.Controller.Ports
	caps.NumVirtualChannels = c.Controller.VirtualChannels
	caps.NumDedicated = c.Controller.Dedicated

	return caps
}

// Freq returns the controller clock.
func (c Config) Freq() sim.Freq {
	return sim.Freq(c.Simulator.FreqMHz) * sim.MHz
}

// LogrusLevel parses the log level.
func (c Config) LogrusLevel() (logrus.Level, error) {
	return logrus.ParseLevel(c.LogLevel)
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Capabilities().Validate(); err != nil {
		return err
	}

	if _, err := c.LogrusLevel(); err != nil {
		return fmt.Errorf("%w: %v", dma.ErrInvalidConfig, err)
	}

	s := c.Simulator
	switch {
	case s.FreqMHz <= 0:
		return fmt.Errorf("%w: frequency %g MHz", dma.ErrInvalidConfig, s.FreqMHz)
	case s.BytesPerCycle == 0:
		return fmt.Errorf("%w: zero bytes per cycle", dma.ErrInvalidConfig)
	case s.PoolSize <= 0:
		return fmt.Errorf("%w: descriptor pool of %d", dma.ErrInvalidConfig, s.PoolSize)
	case uint64(s.PoolBase)+uint64(s.PoolSize)*32 > s.MemorySize:
		return fmt.Errorf("%w: descriptor pool outside memory", dma.ErrInvalidConfig)
	}

	return nil
}
