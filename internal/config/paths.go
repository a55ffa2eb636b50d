// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package config

import (
	"os"
	"path/filepath"
)

const appName = "crewkeeper"

// Dir returns the XDG config directory for crewkeeper.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultFile returns Dir()/config.yaml if it exists, or "" so callers can
// run on flags and environment alone.
func DefaultFile() string {
	path := filepath.Join(Dir(), "config.yaml")
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return ""
	}
	return path
}
