// Package config loads provisionctl's YAML configuration file.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidationMode selects which fields Validate requires. ValidationEmulator
// relaxes the reader-index requirement so the same config file can drive
// provisionctl against the in-memory emulator without a physical reader.
type ValidationMode int

const (
	ValidationFull ValidationMode = iota
	ValidationEmulator
)

// Config is provisionctl's top-level configuration.
type Config struct {
	KeyStore KeyStoreConfig `yaml:"key_store"`
	SDM      SDMConfig      `yaml:"sdm"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
}

// KeyStoreConfig locates the provisioning key store.
type KeyStoreConfig struct {
	Path string `yaml:"path"`
}

// SDMConfig holds the base URL template written into every tag's NDEF file.
type SDMConfig struct {
	BaseURL string `yaml:"base_url"`
}

// RuntimeConfig holds reader selection and logging knobs.
type RuntimeConfig struct {
	ReaderIndex *int   `yaml:"reader_index"`
	LogFormat   string `yaml:"log_format"` // "text" (default) or "json"
}

// Load reads and validates a config file under ValidationFull.
func Load(path string) (*Config, error) {
	return LoadWithMode(path, ValidationFull)
}

// LoadWithMode reads, decodes (rejecting unknown fields), resolves
// file-relative paths, and validates a config file.
func LoadWithMode(path string, mode ValidationMode) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.ValidateWithMode(mode); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the config under ValidationFull.
func (c *Config) Validate() error {
	return c.ValidateWithMode(ValidationFull)
}

// ValidateWithMode validates the config under the given mode.
func (c *Config) ValidateWithMode(mode ValidationMode) error {
	if strings.TrimSpace(c.KeyStore.Path) == "" {
		return fmt.Errorf("config.key_store.path is required")
	}

	if strings.TrimSpace(c.SDM.BaseURL) == "" {
		return fmt.Errorf("config.sdm.base_url is required")
	}
	parsed, err := url.Parse(c.SDM.BaseURL)
	if err != nil {
		return fmt.Errorf("config.sdm.base_url is invalid: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("config.sdm.base_url must be absolute (include scheme and host)")
	}

	if c.Runtime.LogFormat != "" && c.Runtime.LogFormat != "text" && c.Runtime.LogFormat != "json" {
		return fmt.Errorf("config.runtime.log_format must be \"text\" or \"json\"")
	}

	switch mode {
	case ValidationEmulator:
		return nil
	case ValidationFull:
		if c.Runtime.ReaderIndex == nil {
			return fmt.Errorf("config.runtime.reader_index is required")
		}
		if *c.Runtime.ReaderIndex < 0 {
			return fmt.Errorf("config.runtime.reader_index must be >= 0")
		}
		return nil
	default:
		return fmt.Errorf("unsupported validation mode: %d", mode)
	}
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.KeyStore.Path = resolvePath(configDir, c.KeyStore.Path)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}
