// Package config loads the device service configuration from an optional
// YAML file overlaid with RAMBD_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	envVarPrefix = "RAMBD"
	appName      = "rambd"

	DefaultCompat     = "ram,block-device"
	DefaultSectors    = 1024 * 1024
	DefaultQueueDepth = 128
)

// Device is one block device instance to create at startup. Zero fields
// inherit the top level values.
type Device struct {
	Compat     string `yaml:"compat"`
	Sectors    uint64 `yaml:"sectors"`
	Workers    int    `yaml:"workers"`
	QueueDepth int    `yaml:"queueDepth"`
	Locking    bool   `yaml:"locking"`
}

type Config struct {
	Sectors    uint64   `envconfig:"SECTORS"     yaml:"sectors"`
	Workers    int      `envconfig:"WORKERS"     yaml:"workers"`
	QueueDepth int      `envconfig:"QUEUE_DEPTH" yaml:"queueDepth"`
	Locking    bool     `envconfig:"LOCKING"     yaml:"locking"`
	LogLevel   string   `envconfig:"LOG_LEVEL"   yaml:"logLevel"`
	LogFormat  string   `envconfig:"LOG_FORMAT"  yaml:"logFormat"`
	Devices    []Device `ignored:"true"          yaml:"devices"`
}

// DefaultPath is $HOME/.config/rambd.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName+".yaml")
}

// Load reads the config file at path (falling back to RAMBD_CONFIG_FILE
// and then DefaultPath), applies environment overrides and fills defaults.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(envVarPrefix + "_CONFIG_FILE")
	}
	if path == "" {
		path = DefaultPath()
	}

	var c Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, errors.Wrap(err, "reading config file")
			}
		} else if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, errors.Wrap(err, "unmarshaling config file")
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, errors.Wrap(err, "parsing environment variables")
	}

	c.applyDefaults()

	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Sectors == 0 {
		c.Sectors = DefaultSectors
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	if len(c.Devices) == 0 {
		c.Devices = []Device{{}}
	}
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Compat == "" {
			d.Compat = DefaultCompat
		}
		if d.Sectors == 0 {
			d.Sectors = c.Sectors
		}
		if d.Workers == 0 {
			d.Workers = c.Workers
		}
		if d.QueueDepth == 0 {
			d.QueueDepth = c.QueueDepth
		}
		d.Locking = d.Locking || c.Locking
	}
}

func (c *Config) Validate() error {
	if c.Workers < 0 {
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.QueueDepth < 0 {
		return errors.Errorf("queue depth must be positive, got %d", c.QueueDepth)
	}

	for i, d := range c.Devices {
		if d.Sectors == 0 {
			return errors.Errorf("device %d: sectors must be positive", i)
		}
		if d.Workers <= 0 {
			return errors.Errorf("device %d: workers must be positive, got %d", i, d.Workers)
		}
		if d.QueueDepth <= 0 {
			return errors.Errorf("device %d: queue depth must be positive, got %d", i, d.QueueDepth)
		}
	}

	return nil
}
