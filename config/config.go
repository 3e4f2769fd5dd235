package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"tracker-bridge/midi"
)

// DeviceConfig controls device discovery and reconnection
type DeviceConfig struct {
	AllowList            []string      `yaml:"allowList" validate:"dive,required"`
	Exclude              []string      `yaml:"exclude" validate:"dive,required"`
	ScanTimeout          time.Duration `yaml:"scanTimeout" validate:"gt=0"`
	PollInterval         time.Duration `yaml:"pollInterval" validate:"gt=0"`
	BackoffMin           time.Duration `yaml:"backoffMin" validate:"gt=0"`
	BackoffMax           time.Duration `yaml:"backoffMax" validate:"gtefield=BackoffMin"`
	MaxTransportFailures int           `yaml:"maxTransportFailures" validate:"gte=1"`
}

// BridgeConfig tunes the outbound batching window
type BridgeConfig struct {
	TickInterval time.Duration `yaml:"tickInterval" validate:"gte=1ms,lte=1s"`
	InboundQueue int           `yaml:"inboundQueue" validate:"gte=1,lte=65536"`
}

// LogConfig mirrors debug.Options
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	File  string `yaml:"file,omitempty"`
	JSON  bool   `yaml:"json,omitempty"`
}

// HTTPConfig is the control API listener used by `serve`
type HTTPConfig struct {
	Listen string `yaml:"listen" validate:"required,hostname_port"`
}

// Config is the main configuration structure
type Config struct {
	Device DeviceConfig `yaml:"device"`
	Bridge BridgeConfig `yaml:"bridge"`
	Log    LogConfig    `yaml:"log"`
	HTTP   HTTPConfig   `yaml:"http"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			AllowList:    append([]string(nil), midi.DefaultAllowList...),
			Exclude:      append([]string(nil), midi.DefaultExclude...),
			ScanTimeout:  3 * time.Second,
			PollInterval: time.Second,
			BackoffMin:   250 * time.Millisecond,
			BackoffMax:   10 * time.Second,

			MaxTransportFailures: 5,
		},
		Bridge: BridgeConfig{
			TickInterval: 16 * time.Millisecond,
			InboundQueue: 256,
		},
		Log: LogConfig{
			Level: "info",
		},
		HTTP: HTTPConfig{
			Listen: "127.0.0.1:7401",
		},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "tracker-bridge"), nil
}

// ConfigPath returns the full path to config.yaml
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the config at path (ConfigPath when empty). A missing file
// yields the defaults. Fields absent from the file keep their default.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return cfg, nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path (ConfigPath when empty)
func (c *Config) Save(path string) error {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// ConnectionOptions converts the device section for the connection manager.
// Logger and metrics are filled in by the session.
func (c *Config) ConnectionOptions() midi.Options {
	return midi.Options{
		AllowList:    c.Device.AllowList,
		Exclude:      c.Device.Exclude,
		ScanTimeout:  c.Device.ScanTimeout,
		PollInterval: c.Device.PollInterval,
		BackoffMin:   c.Device.BackoffMin,
		BackoffMax:   c.Device.BackoffMax,
		InboundQueue: c.Bridge.InboundQueue,

		MaxTransportFailures: c.Device.MaxTransportFailures,
	}
}
