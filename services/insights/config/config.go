// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the insights service configuration.
//
// # Description
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then environment variable overrides. Env vars win so container
// deployments can tune a baked-in config file without rebuilding.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Otel     OtelConfig     `yaml:"otel"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type StorageConfig struct {
	// Path is the BadgerDB directory. Empty runs the service without
	// durable storage (in-memory repository, volatile-only cache).
	Path string `yaml:"path"`

	// GCInterval is the value-log garbage collection period.
	GCInterval time.Duration `yaml:"gcInterval"`
}

type CacheConfig struct {
	Namespace     string        `yaml:"namespace"`
	DefaultTTL    time.Duration `yaml:"defaultTtl"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

type AnalysisConfig struct {
	ExecutionCeiling time.Duration `yaml:"executionCeiling"`
	ResultTTL        time.Duration `yaml:"resultTtl"`
}

type RealtimeConfig struct {
	// URL is the push endpoint to dial. Empty disables the channel.
	URL                  string        `yaml:"url"`
	HeartbeatInterval    time.Duration `yaml:"heartbeatInterval"`
	ReconnectDelay       time.Duration `yaml:"reconnectDelay"`
	MaxReconnectAttempts int           `yaml:"maxReconnectAttempts"`
}

type OtelConfig struct {
	// Endpoint is the OTLP gRPC collector address. Empty disables tracing.
	Endpoint string `yaml:"endpoint"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: "12240"},
		Storage: StorageConfig{GCInterval: 10 * time.Minute},
		Cache: CacheConfig{
			Namespace:     "insights_cache:",
			DefaultTTL:    5 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Analysis: AnalysisConfig{
			ExecutionCeiling: 10 * time.Second,
			ResultTTL:        10 * time.Minute,
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval:    30 * time.Second,
			ReconnectDelay:       2 * time.Second,
			MaxReconnectAttempts: 5,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides.
//
// # Inputs
//
//   - path: YAML config file. Empty skips the file layer; a non-empty
//     path that does not exist is an error.
//
// # Outputs
//
//   - *Config: The merged configuration.
//   - error: Non-nil on unreadable or malformed YAML.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays the environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("INSIGHTS_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("INSIGHTS_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("INSIGHTS_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.DefaultTTL = d
		}
	}
	if v := os.Getenv("INSIGHTS_REALTIME_URL"); v != "" {
		cfg.Realtime.URL = v
	}
	if v := os.Getenv("INSIGHTS_REALTIME_MAX_RECONNECTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Realtime.MaxReconnectAttempts = n
		}
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Otel.Endpoint = v
	}
}
