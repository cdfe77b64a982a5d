// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "12240", cfg.Server.Port)
	assert.Equal(t, "insights_cache:", cfg.Cache.Namespace)
	assert.Equal(t, 10*time.Second, cfg.Analysis.ExecutionCeiling)
	assert.Equal(t, 10*time.Minute, cfg.Analysis.ResultTTL)
	assert.Equal(t, 5, cfg.Realtime.MaxReconnectAttempts)

	// Optional subsystems default to disabled.
	assert.Empty(t, cfg.Storage.Path)
	assert.Empty(t, cfg.Realtime.URL)
	assert.Empty(t, cfg.Otel.Endpoint)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insights.yaml")
	content := `
server:
  port: "9000"
storage:
  path: /var/lib/insights
cache:
  defaultTtl: 90s
realtime:
  url: wss://push.example.com/feed
  maxReconnectAttempts: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "/var/lib/insights", cfg.Storage.Path)
	assert.Equal(t, 90*time.Second, cfg.Cache.DefaultTTL)
	assert.Equal(t, 2, cfg.Realtime.MaxReconnectAttempts)
	// Unset fields keep their defaults.
	assert.Equal(t, "insights_cache:", cfg.Cache.Namespace)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err, "missing explicit config file should be an error")
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a mapping"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("INSIGHTS_PORT", "8123")
	t.Setenv("INSIGHTS_DB_PATH", "/tmp/insights-db")
	t.Setenv("INSIGHTS_CACHE_TTL", "45s")
	t.Setenv("INSIGHTS_REALTIME_URL", "wss://env.example.com/feed")
	t.Setenv("INSIGHTS_REALTIME_MAX_RECONNECTS", "9")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8123", cfg.Server.Port)
	assert.Equal(t, "/tmp/insights-db", cfg.Storage.Path)
	assert.Equal(t, 45*time.Second, cfg.Cache.DefaultTTL)
	assert.Equal(t, "wss://env.example.com/feed", cfg.Realtime.URL)
	assert.Equal(t, 9, cfg.Realtime.MaxReconnectAttempts)

	t.Run("invalid values are ignored", func(t *testing.T) {
		t.Setenv("INSIGHTS_CACHE_TTL", "not-a-duration")
		t.Setenv("INSIGHTS_REALTIME_MAX_RECONNECTS", "-3")

		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL, "bad duration keeps the default")
		assert.Equal(t, 9, cfg.Realtime.MaxReconnectAttempts, "non-positive count keeps the outer value")
	})
}
