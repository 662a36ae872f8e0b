// Package config loads the CLI configuration from a YAML file.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Config struct {
	Log    LogConfig    `yaml:"log"`
	Store  StoreConfig  `yaml:"store"`
	Model  ModelConfig  `yaml:"model"`
	Search SearchConfig `yaml:"search"`
	Graph  GraphConfig  `yaml:"graph"`
	Writer WriterConfig `yaml:"writer"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite badger"`
	// Path is the sqlite file or badger directory. It is required for both.
	Path string `yaml:"path" validate:"required_unless=Driver memory"`
}

type ModelConfig struct {
	Name        string  `yaml:"name" validate:"required"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
}

type SearchConfig struct {
	MaxResults int `yaml:"max_results" validate:"gte=1,lte=20"`
}

type GraphConfig struct {
	MaxSteps int  `yaml:"max_steps" validate:"gte=1"`
	Debug    bool `yaml:"debug"`
}

type WriterConfig struct {
	MaxRevisions int `yaml:"max_revisions" validate:"gte=1,lte=10"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info"},
		Store:  StoreConfig{Driver: DriverMemory},
		Model:  ModelConfig{Name: "gpt-4o-mini"},
		Search: SearchConfig{MaxResults: 2},
		Graph:  GraphConfig{MaxSteps: 25},
		Writer: WriterConfig{MaxRevisions: 2},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "invalid config %s", path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "decode yaml")
	}
	return nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "config validation failed")
	}
	return nil
}
