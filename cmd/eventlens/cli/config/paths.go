// Package config provides configuration management for the eventlens CLI.
package config

import (
	"os"
	"path/filepath"
)

// CacheDir returns the eventlens cache directory.
// Uses XDG_CACHE_HOME/eventlens, defaulting to ~/.cache/eventlens.
func CacheDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "eventlens"), nil
}

// Dir returns the eventlens config directory.
// Uses XDG_CONFIG_HOME/eventlens, defaulting to ~/.config/eventlens.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "eventlens"), nil
}
