// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-version"
)

const (
	// GitHubAPIURL is the endpoint for fetching the latest release
	GitHubAPIURL = "https://api.github.com/repos/fitzgen/wasm-bindgen/releases/latest"
	// CheckInterval is how often we check for updates (24 hours)
	CheckInterval = 24 * time.Hour
	// RequestTimeout is the maximum time to wait for GitHub API
	RequestTimeout = 5 * time.Second
)

// Checker handles update checking logic
type Checker struct {
	currentVersion string
	cacheDir       string
}

// GitHubRelease represents the GitHub API response for a release
type GitHubRelease struct {
	TagName string `json:"tag_name"`
}

// CacheData stores the last check timestamp and latest version
type CacheData struct {
	LastCheck     time.Time `json:"last_check"`
	LatestVersion string    `json:"latest_version"`
}

// NewChecker creates a new update checker
func NewChecker(currentVersion string) *Checker {
	return &Checker{
		currentVersion: currentVersion,
		cacheDir:       getCacheDir(),
	}
}

// CheckForUpdates performs a rate-limited update check. All failures are
// silent; a build tool must never block or nag on network trouble.
func (c *Checker) CheckForUpdates() {
	shouldCheck, err := c.shouldCheck()
	if err != nil || !shouldCheck {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
	defer cancel()

	latest, err := c.fetchLatestVersion(ctx)
	if err != nil {
		return
	}
	if err := c.updateCache(latest); err != nil {
		return
	}

	outdated, err := IsOutdated(c.currentVersion, latest)
	if err != nil || !outdated {
		return
	}
	fmt.Fprintf(os.Stderr, "A new release of wasm-bindgen is available: %s -> %s\n",
		c.currentVersion, latest)
}

// IsOutdated compares two semver strings.
func IsOutdated(current, latest string) (bool, error) {
	cur, err := version.NewVersion(current)
	if err != nil {
		return false, err
	}
	lat, err := version.NewVersion(latest)
	if err != nil {
		return false, err
	}
	return cur.LessThan(lat), nil
}

func (c *Checker) shouldCheck() (bool, error) {
	data, err := c.readCache()
	if err != nil {
		return true, nil
	}
	return time.Since(data.LastCheck) > CheckInterval, nil
}

func (c *Checker) fetchLatestVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, GitHubAPIURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", err
	}
	if release.TagName == "" {
		return "", fmt.Errorf("release has no tag name")
	}
	return release.TagName, nil
}

func (c *Checker) cacheFile() string {
	return filepath.Join(c.cacheDir, "update-check.json")
}

func (c *Checker) readCache() (*CacheData, error) {
	raw, err := os.ReadFile(c.cacheFile())
	if err != nil {
		return nil, err
	}
	var data CacheData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (c *Checker) updateCache(latest string) error {
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(CacheData{LastCheck: time.Now(), LatestVersion: latest})
	if err != nil {
		return err
	}
	return os.WriteFile(c.cacheFile(), raw, 0o644)
}

func getCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(home, ".wasm-bindgen")
}
