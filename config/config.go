// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the peer runtime configuration.
type Config struct {
	Port uint16 `yaml:"port" json:"port"`
	Name string `yaml:"name" json:"name"`

	Heartbeat *HeartbeatConfig `yaml:"heartbeat" json:"heartbeat"`
	Crypto    *CryptoConfig    `yaml:"crypto" json:"crypto"`
	Logging   *LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics   *MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// HeartbeatConfig controls the UDP liveness broadcast and the registry
// reaper.
type HeartbeatConfig struct {
	Interval    time.Duration `yaml:"interval" json:"interval"`
	Port        uint16        `yaml:"port" json:"port"`
	PeerTimeout time.Duration `yaml:"peer_timeout" json:"peer_timeout"`
}

// CryptoConfig controls message freshness enforcement.
type CryptoConfig struct {
	MaxMessageAge time.Duration `yaml:"max_message_age" json:"max_message_age"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		Port: 9999,
		Name: "Anonymous",
	}
	setDefaults(cfg)
	return cfg
}

// LoadFromFile loads configuration from a YAML file, substitutes
// ${VAR} references, and applies defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	substituted := []byte(SubstituteEnvVars(string(data)))
	cfg := &Config{}
	if err := yaml.Unmarshal(substituted, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// An explicit zero peer_timeout disables eviction; setDefaults alone
	// cannot tell it apart from an unset value.
	var explicit struct {
		Heartbeat struct {
			PeerTimeout *time.Duration `yaml:"peer_timeout"`
		} `yaml:"heartbeat"`
	}
	_ = yaml.Unmarshal(substituted, &explicit)

	setDefaults(cfg)
	if pt := explicit.Heartbeat.PeerTimeout; pt != nil && *pt == 0 {
		cfg.Heartbeat.PeerTimeout = 0
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize applies the display-name and port rules: a blank or
// oversize name becomes "Anonymous"; port 0 becomes 8080.
func (c *Config) Normalize() {
	name := strings.TrimSpace(c.Name)
	if name == "" || len(name) > 128 {
		c.Name = "Anonymous"
	} else {
		c.Name = name
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

// Validate rejects configurations no peer could run with.
func (c *Config) Validate() error {
	if c.Heartbeat != nil {
		if c.Heartbeat.Interval <= 0 {
			return fmt.Errorf("heartbeat interval must be positive")
		}
		if c.Heartbeat.Port == 0 {
			return fmt.Errorf("heartbeat port must be set")
		}
	}
	if c.Crypto != nil && c.Crypto.MaxMessageAge <= 0 {
		return fmt.Errorf("max message age must be positive")
	}
	return nil
}

// setDefaults sets default values for configuration
func setDefaults(cfg *Config) {
	if cfg.Heartbeat == nil {
		cfg.Heartbeat = &HeartbeatConfig{}
	}
	if cfg.Heartbeat.Interval == 0 {
		cfg.Heartbeat.Interval = 10 * time.Second
	}
	if cfg.Heartbeat.Port == 0 {
		cfg.Heartbeat.Port = 9999
	}
	if cfg.Heartbeat.PeerTimeout == 0 {
		cfg.Heartbeat.PeerTimeout = 60 * time.Second
	}

	if cfg.Crypto == nil {
		cfg.Crypto = &CryptoConfig{}
	}
	if cfg.Crypto.MaxMessageAge == 0 {
		cfg.Crypto.MaxMessageAge = 5 * time.Minute
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9464
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
