// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "warn", cfg.LogLevel)
	require.True(t, cfg.UpdateCheck)
	require.False(t, cfg.Telemetry)
	require.NotEmpty(t, cfg.CachePath)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WASM_BINDGEN_LOG_LEVEL", "debug")
	t.Setenv("WASM_BINDGEN_CACHE_PATH", "/tmp/wbg-cache")
	t.Setenv("WASM_BINDGEN_NO_UPDATE_CHECK", "1")
	t.Setenv("WASM_BINDGEN_TELEMETRY_URL", "localhost:4318")

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "/tmp/wbg-cache", cfg.CachePath)
	require.False(t, cfg.UpdateCheck)
	require.True(t, cfg.Telemetry)
	require.Equal(t, "localhost:4318", cfg.TelemetryURL)
}
