package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - LESSONVAULT_CONFIG_PATH: config file location (default: ~/.config/lessonvault.toml)
//   - LESSONVAULT_HOME: base directory for lessonvault data (default: ~/.local/share/lessonvault)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// GetServerConfigPath returns the license server config path, checking
// LICENSED_CONFIG_PATH first, then falling back to ~/.config/licensed.toml.
func GetServerConfigPath() (string, error) {
	return envOrHome("LICENSED_CONFIG_PATH", ".config", "licensed.toml")
}

// getConfigPath returns the config file path, checking LESSONVAULT_CONFIG_PATH env var first,
// then falling back to the default ~/.config/lessonvault.toml.
func getConfigPath() (string, error) {
	return envOrHome("LESSONVAULT_CONFIG_PATH", ".config", "lessonvault.toml")
}

// getBaseDir returns the base directory for lessonvault data, checking LESSONVAULT_HOME env var first,
// then falling back to the XDG default ~/.local/share/lessonvault.
func getBaseDir() (string, error) {
	return envOrHome("LESSONVAULT_HOME", ".local", "share", "lessonvault")
}

func envOrHome(env string, elem ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elem...)...), nil
}
