// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads cmgstat settings from an optional TOML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Thermoquad/cmgstat/pkg/link"
)

// Config holds connection, logging and output settings
type Config struct {
	Port        string
	Baud        int
	URL         string
	Username    string
	NoSSLVerify bool
	Reconnect   time.Duration
	Liveness    time.Duration
	LogLevel    string
	LogFormat   string
	LogFile     string
	MetricsAddr string
	RecordDir   string
}

type fileConfig struct {
	Port              string `toml:"port"`
	Baud              int    `toml:"baud"`
	URL               string `toml:"url"`
	Username          string `toml:"username"`
	NoSSLVerify       bool   `toml:"no_ssl_verify"`
	ReconnectInterval string `toml:"reconnect_interval"`
	LivenessTimeout   string `toml:"liveness_timeout"`
	LogLevel          string `toml:"log_level"`
	LogFormat         string `toml:"log_format"`
	LogFile           string `toml:"log_file"`
	MetricsAddr       string `toml:"metrics_addr"`
	RecordDir         string `toml:"record_dir"`
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		Baud:      link.DefaultBaudRate,
		Reconnect: link.DefaultReconnectInterval,
		Liveness:  link.DefaultLivenessTimeout,
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load cmgstat config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load cmgstat config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("port") {
		cfg.Port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("url") {
		cfg.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("username") {
		cfg.Username = strings.TrimSpace(raw.Username)
	}
	if meta.IsDefined("no_ssl_verify") {
		cfg.NoSSLVerify = raw.NoSSLVerify
	}
	if meta.IsDefined("reconnect_interval") {
		d, err := parseDuration("reconnect_interval", raw.ReconnectInterval)
		if err != nil {
			return Config{}, err
		}
		cfg.Reconnect = d
	}
	if meta.IsDefined("liveness_timeout") {
		d, err := parseDuration("liveness_timeout", raw.LivenessTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.Liveness = d
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(raw.LogFormat))
	}
	if meta.IsDefined("log_file") {
		cfg.LogFile = strings.TrimSpace(raw.LogFile)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("record_dir") {
		cfg.RecordDir = strings.TrimSpace(raw.RecordDir)
	}

	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("load cmgstat config: %s: %w", key, err)
	}
	return d, nil
}

// Validate reports settings that cannot produce a working connection
func (c Config) Validate() error {
	var errs []error
	if c.Baud <= 0 {
		errs = append(errs, fmt.Errorf("baud must be positive, got %d", c.Baud))
	}
	if c.Reconnect <= 0 {
		errs = append(errs, fmt.Errorf("reconnect_interval must be positive, got %s", c.Reconnect))
	}
	if c.Liveness <= 0 {
		errs = append(errs, fmt.Errorf("liveness_timeout must be positive, got %s", c.Liveness))
	}
	if c.Port != "" && c.URL != "" {
		errs = append(errs, errors.New("port and url are mutually exclusive"))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be console or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// IsWebSocket reports whether the connection goes through a WebSocket bridge
func (c Config) IsWebSocket() bool {
	return c.URL != ""
}
