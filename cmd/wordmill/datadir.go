// ABOUTME: XDG-based data and config directory resolution for the wordmill CLI.
// ABOUTME: Checks XDG_DATA_HOME / XDG_CONFIG_HOME, falls back to ~/.local/share and ~/.config.
package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// defaultDataDir returns the default directory for wordmill persistent state.
// It checks XDG_DATA_HOME first, then falls back to ~/.local/share/wordmill.
func defaultDataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "wordmill"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, ".local", "share", "wordmill"), nil
}

// resolveDataDir resolves the data directory, preferring the explicit override.
func resolveDataDir(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	return defaultDataDir()
}

// defaultPresetsFile returns the path of the user's presets file under the
// config directory, or "" when the directory cannot be resolved. The file
// itself may not exist; callers treat that as "no extra presets".
func defaultPresetsFile() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "wordmill", "presets.yaml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "wordmill", "presets.yaml")
}
