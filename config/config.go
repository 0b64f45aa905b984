// Package config loads the flasher's YAML configuration.
//
// Every key is optional. Load only parses; Validate checks without
// mutating; Normalize fills in defaults and must run after Validate.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"arduflash/device"
)

type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Locator  LocatorConfig  `yaml:"locator"`
	Multi    MultiConfig    `yaml:"multi"`
	Transfer TransferConfig `yaml:"transfer"`
}

// ---- SERIAL ----

type SerialConfig struct {
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// ---- LOCATOR ----

type LocatorConfig struct {
	Wait           time.Duration `yaml:"wait"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ResetSettle    time.Duration `yaml:"reset_settle"`
	BootloaderIDs  []device.ID   `yaml:"bootloader_ids"`
	ApplicationIDs []device.ID   `yaml:"application_ids"`
}

// ---- MULTI ----

type MultiConfig struct {
	ContinueOnFailure *bool `yaml:"continue_on_failure"`
}

// ---- TRANSFER ----

type TransferConfig struct {
	Verify *bool `yaml:"verify"`
}

// Load reads path. An empty path yields an empty configuration, which
// Normalize turns into the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML. Unknown keys are rejected so typos do not silently
// fall back to defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Device returns the locator and serial settings.
func (c *Config) Device() device.Config {
	return device.Config{
		BootloaderIDs:  c.Locator.BootloaderIDs,
		ApplicationIDs: c.Locator.ApplicationIDs,
		Wait:           c.Locator.Wait,
		PollInterval:   c.Locator.PollInterval,
		ResetSettle:    c.Locator.ResetSettle,
		Baud:           c.Serial.Baud,
		ReadTimeout:    c.Serial.ReadTimeout,
	}
}

// ContinueOnFailure reports whether multi-device runs go on after a failure.
func (c *Config) ContinueOnFailure() bool {
	return c.Multi.ContinueOnFailure == nil || *c.Multi.ContinueOnFailure
}

// Verify reports whether writes are read back.
func (c *Config) Verify() bool {
	return c.Transfer.Verify == nil || *c.Transfer.Verify
}
