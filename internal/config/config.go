// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the general configuration for wasm-bindgen
type Config struct {
	LogLevel  string `json:"log_level,omitempty"`
	CachePath string `json:"cache_path,omitempty"`
	// UpdateCheck enables the async release check on startup.
	UpdateCheck bool `json:"update_check,omitempty"`
	// Telemetry enables opt-in OpenTelemetry tracing of rewrite runs.
	Telemetry    bool   `json:"telemetry,omitempty"`
	TelemetryURL string `json:"telemetry_url,omitempty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:    "warn",
		CachePath:   filepath.Join(os.ExpandEnv("$HOME"), ".wasm-bindgen", "cache"),
		UpdateCheck: true,
	}
}

// GetConfigPath returns the configuration directory, creating it if needed.
func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".wasm-bindgen")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

// GetGeneralConfigPath returns the path to the general configuration file
func GetGeneralConfigPath() (string, error) {
	configDir, err := GetConfigPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.json"), nil
}

// LoadConfig loads the general configuration from disk (JSON format),
// falling back to defaults when the file does not exist, then applies
// environment overrides.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	configPath, err := GetGeneralConfigPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// SaveConfig writes the configuration back to disk.
func SaveConfig(cfg *Config) error {
	configPath, err := GetGeneralConfigPath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(configPath, data, 0o644)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WASM_BINDGEN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WASM_BINDGEN_CACHE_PATH"); v != "" {
		cfg.CachePath = v
	}
	if v := os.Getenv("WASM_BINDGEN_NO_UPDATE_CHECK"); v != "" {
		cfg.UpdateCheck = false
	}
	if v := os.Getenv("WASM_BINDGEN_TELEMETRY_URL"); v != "" {
		cfg.Telemetry = true
		cfg.TelemetryURL = v
	}
}
