// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and watches the conversion service configuration.
//
// Configuration is a single YAML document. Every field has a working
// default so the service starts with no config file at all; a file that
// exists but fails to parse is a hard startup error.
//
// Scoring weights may additionally be hot-reloaded at runtime (see
// Watcher) so heuristic tuning does not require a restart.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ConversionPulse/services/conversion/scoring"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Address is the listen address, host:port.
	Address string `yaml:"address"`

	// ReadTimeout and WriteTimeout bound request handling.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown on SIGINT/SIGTERM.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig holds the persistent store and spool locations.
type StorageConfig struct {
	// DatabasePath is the SQLite database file. Empty selects an
	// in-memory database (tests, demos).
	DatabasePath string `yaml:"database_path"`

	// SpoolPath is the BadgerDB directory used to journal events that
	// could not be written to the database. Empty disables spooling.
	SpoolPath string `yaml:"spool_path"`

	// SpoolFlushInterval is how often the spool retries buffered events.
	SpoolFlushInterval time.Duration `yaml:"spool_flush_interval"`
}

// PipelineConfig holds aggregation and propagation tunables.
type PipelineConfig struct {
	// AggregationWindow bounds how far back the aggregator reads events.
	AggregationWindow time.Duration `yaml:"aggregation_window"`

	// ActiveWindow is the trailing window within which a session counts
	// as active.
	ActiveWindow time.Duration `yaml:"active_window"`

	// DedupeTolerance collapses high-frequency events of identical type
	// arriving within this interval.
	DedupeTolerance time.Duration `yaml:"dedupe_tolerance"`

	// BookingPagePath marks which page URLs count as the booking page.
	BookingPagePath string `yaml:"booking_page_path"`

	// PollInterval is the dashboard polling fallback cadence; the live
	// monitor view polls at LivePollInterval.
	PollInterval     time.Duration `yaml:"poll_interval"`
	LivePollInterval time.Duration `yaml:"live_poll_interval"`

	// PendingMinScore is the default floor for the validation queue.
	PendingMinScore float64 `yaml:"pending_min_score"`
}

// Config is the root configuration document.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Storage  StorageConfig   `yaml:"storage"`
	Pipeline PipelineConfig  `yaml:"pipeline"`
	Scoring  scoring.Weights `yaml:"scoring"`

	// WeightsPath, when set, is watched for changes and reloaded into the
	// scoring engine without a restart.
	WeightsPath string `yaml:"weights_path"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         "127.0.0.1:12310",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			DatabasePath:       "conversionpulse.db",
			SpoolPath:          "",
			SpoolFlushInterval: 15 * time.Second,
		},
		Pipeline: PipelineConfig{
			AggregationWindow: 30 * time.Minute,
			ActiveWindow:      5 * time.Minute,
			DedupeTolerance:   time.Second,
			BookingPagePath:   "/book",
			PollInterval:      30 * time.Second,
			LivePollInterval:  2 * time.Second,
			PendingMinScore:   0.5,
		},
		Scoring: scoring.DefaultWeights(),
	}
}

// Load reads the YAML file at path over the defaults.
//
// # Description
//
// A missing file is not an error: the defaults are returned so the service
// can run unconfigured. A file that exists but cannot be read or parsed is
// a hard error, since a half-applied config is worse than none.
//
// # Inputs
//
//   - path: YAML config file location. May be empty.
//
// # Outputs
//
//   - Config: Defaults overlaid with the file contents.
//   - error: Non-nil on read or parse failure of an existing file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWeights reads a standalone scoring-weights YAML document.
//
// Used by the hot-reload watcher; the document holds only the scoring
// section, not the full Config.
func LoadWeights(path string) (scoring.Weights, error) {
	weights := scoring.DefaultWeights()
	raw, err := os.ReadFile(path)
	if err != nil {
		return weights, fmt.Errorf("read weights %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &weights); err != nil {
		return weights, fmt.Errorf("parse weights %s: %w", path, err)
	}
	return weights, nil
}
