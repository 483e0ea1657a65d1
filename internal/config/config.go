// Package config resolves the bootstrap configuration of svchost from
// command-line flags, environment variables and an optional YAML file.
package config

import (
	"os"
	"path/filepath"
)

const appName = "svchost"

// Dir returns the per-user configuration directory:
// $XDG_CONFIG_HOME/svchost, %APPDATA%\svchost or ~/.config/svchost.
// The directory is not created.
func Dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName), nil
}

// DefaultHostKeyPath is where the SSH control host key lives unless configured.
func DefaultHostKeyPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "host_key"), nil
}
