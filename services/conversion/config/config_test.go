// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad_MissingFileUsesDefaults verifies the service runs unconfigured.
func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

// TestLoad_EmptyPathUsesDefaults verifies an empty path skips the file read.
func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

// TestLoad_OverlaysFile verifies file values override defaults while
// untouched sections keep them.
func TestLoad_OverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: "0.0.0.0:9000"
pipeline:
  booking_page_path: "/reserve"
  pending_min_score: 0.65
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Address)
	assert.Equal(t, "/reserve", cfg.Pipeline.BookingPagePath)
	assert.Equal(t, 0.65, cfg.Pipeline.PendingMinScore)
	// Untouched sections keep defaults.
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.AggregationWindow)
	assert.Equal(t, Default().Scoring, cfg.Scoring)
}

// TestLoad_ParseErrorIsFatal verifies a broken existing file fails loudly.
func TestLoad_ParseErrorIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a mapping"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

// TestLoad_ScoringOverride verifies scoring weights can come from the main
// config document.
func TestLoad_ScoringOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scoring:
  estimated_threshold: 0.8
  visibility_base: 0.05
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.Scoring.EstimatedThreshold)
	assert.Equal(t, 0.05, cfg.Scoring.VisibilityBase)
}

// TestLoadWeights verifies the standalone weights document.
func TestLoadWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
booking_page_time:
  - {min: 600, weight: 0.4}
estimated_threshold: 0.7
`), 0644))

	weights, err := LoadWeights(path)
	require.NoError(t, err)
	require.Len(t, weights.BookingPageTime, 1)
	assert.Equal(t, 600.0, weights.BookingPageTime[0].Min)
	assert.Equal(t, 0.7, weights.EstimatedThreshold)
}

// TestLoadWeights_MissingFile verifies the watcher path errors on a missing
// file instead of silently resetting weights.
func TestLoadWeights_MissingFile(t *testing.T) {
	_, err := LoadWeights(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
