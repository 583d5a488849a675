// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

package updater

import "testing"

func TestIsOutdated(t *testing.T) {
	tests := []struct {
		current string
		latest  string
		want    bool
	}{
		{"0.1.0", "0.2.0", true},
		{"0.2.0", "0.2.0", false},
		{"0.3.0", "0.2.0", false},
		{"0.2.0", "v0.2.1", true},
	}
	for _, tt := range tests {
		got, err := IsOutdated(tt.current, tt.latest)
		if err != nil {
			t.Fatalf("IsOutdated(%q, %q) error: %v", tt.current, tt.latest, err)
		}
		if got != tt.want {
			t.Fatalf("IsOutdated(%q, %q) = %v, want %v", tt.current, tt.latest, got, tt.want)
		}
	}
}

func TestIsOutdatedRejectsGarbage(t *testing.T) {
	if _, err := IsOutdated("dev", "0.2.0"); err == nil {
		t.Fatal("expected error for non-semver current version")
	}
}
