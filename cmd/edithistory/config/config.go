// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads ~/.edithistory/edithistory.yaml.
//
// The file is created with defaults on first run. Values are read through
// viper, so EDITHISTORY_* environment variables override the file
// (EDITHISTORY_SERVER_ADDR overrides server.addr), and the result is
// validated before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/edithistory/pkg/logging"
	"github.com/AleutianAI/edithistory/services/history"
	"github.com/AleutianAI/edithistory/services/storage/badger"
	"github.com/AleutianAI/edithistory/services/telemetry"
	"github.com/AleutianAI/edithistory/services/translation"
)

// Config is the whole edithistory configuration file.
type Config struct {
	History     history.Config     `yaml:"history" mapstructure:"history"`
	Storage     StorageConfig      `yaml:"storage" mapstructure:"storage"`
	Translation translation.Config `yaml:"translation" mapstructure:"translation"`
	Server      ServerConfig       `yaml:"server" mapstructure:"server"`
	Logging     LoggingConfig      `yaml:"logging" mapstructure:"logging"`
	Telemetry   telemetry.Config   `yaml:"telemetry" mapstructure:"telemetry"`
}

type StorageConfig struct {
	// Path is the BadgerDB directory. "~" is expanded.
	Path string `yaml:"path" mapstructure:"path" validate:"required_unless=InMemory true"`

	InMemory   bool `yaml:"in_memory" mapstructure:"in_memory"`
	SyncWrites bool `yaml:"sync_writes" mapstructure:"sync_writes"`

	// GCInterval is a Go duration ("5m"); "0" disables value log GC.
	GCInterval string `yaml:"gc_interval" mapstructure:"gc_interval"`

	// KeyPrefix namespaces the history keys inside the database.
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port"`

	// URL is where client commands reach the server. Defaults to http://Addr.
	URL string `yaml:"url,omitempty" mapstructure:"url" validate:"omitempty,url"`
}

type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir" mapstructure:"dir"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// Default returns the configuration written on first run.
func Default() Config {
	return Config{
		History: history.DefaultConfig(),
		Storage: StorageConfig{
			Path:       "~/.edithistory/data",
			SyncWrites: true,
			GCInterval: "5m",
			KeyPrefix:  badger.DefaultKeyPrefix,
		},
		Translation: translation.DefaultConfig(),
		Server:      ServerConfig{Addr: "127.0.0.1:8765"},
		Logging:     LoggingConfig{Level: "info", Dir: "~/.edithistory/logs"},
		Telemetry:   telemetry.DefaultConfig(),
	}
}

// DefaultPath returns ~/.edithistory/edithistory.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".edithistory", "edithistory.yaml"), nil
}

// Load reads path (DefaultPath when empty), creating it with defaults if it
// does not exist, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("EDITHISTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("translation.api_key", "EDITHISTORY_TRANSLATION_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind api key env: %w", err)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read the config file %s: %w", path, err)
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.GCInterval(); err != nil {
		return fmt.Errorf("invalid config: storage.gc_interval: %w", err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// GCInterval parses Storage.GCInterval. Empty or "0" is disabled.
func (c *Config) GCInterval() (time.Duration, error) {
	if c.Storage.GCInterval == "" || c.Storage.GCInterval == "0" {
		return 0, nil
	}
	return time.ParseDuration(c.Storage.GCInterval)
}

// BadgerConfig converts the storage section.
func (c *Config) BadgerConfig() badger.Config {
	if c.Storage.InMemory {
		return badger.InMemoryConfig()
	}
	cfg := badger.DefaultConfig(ExpandPath(c.Storage.Path))
	cfg.SyncWrites = c.Storage.SyncWrites
	cfg.GCInterval, _ = c.GCInterval()
	return cfg
}

// LoggerConfig converts the logging section for the named service.
func (c *Config) LoggerConfig(service string) logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: service,
		JSON:    c.Logging.JSON,
	}
}

// ServerURL is the base URL client commands use.
func (c *Config) ServerURL() string {
	if c.Server.URL != "" {
		return c.Server.URL
	}
	return "http://" + c.Server.Addr
}

// ExpandPath expands a leading "~".
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}
