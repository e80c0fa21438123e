// Package config loads the application configuration from
// ~/.config/limit/config.yaml, falling back to defaults when the file
// is absent.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"limit/pkg/logging"
)

const (
	userConfigDir  = ".config/limit"
	configFileName = "config.yaml"
)

// Config is the top-level configuration structure.
type Config struct {
	// Backend is the auth broker the client talks to for OAuth start,
	// code exchange, and refresh.
	Backend BackendConfig `yaml:"backend"`

	// Callback controls how the OAuth redirect is intercepted.
	Callback CallbackConfig `yaml:"callback"`

	// Storage overrides the default secret and registry locations.
	Storage StorageConfig `yaml:"storage"`

	// Refresh tunes the background token refresh loop.
	Refresh RefreshConfig `yaml:"refresh"`
}

// BackendConfig points at the auth broker.
type BackendConfig struct {
	URL string `yaml:"url,omitempty"`
}

// CallbackConfig describes the OAuth redirect surface.
type CallbackConfig struct {
	Scheme            string `yaml:"scheme,omitempty"`            // Custom URL scheme (default: limit)
	UniversalLinkHost string `yaml:"universalLinkHost,omitempty"` // https:// host also accepted as a callback
	Port              int    `yaml:"port,omitempty"`              // Loopback callback server port (default: 3000)
}

// StorageConfig holds filesystem locations. Relative paths are resolved
// against the user's home directory.
type StorageConfig struct {
	SecretsDir   string `yaml:"secretsDir,omitempty"`
	RegistryPath string `yaml:"registryPath,omitempty"`
}

// RefreshConfig tunes the coordinator loop.
type RefreshConfig struct {
	Interval time.Duration `yaml:"interval,omitempty"`
	Window   time.Duration `yaml:"window,omitempty"`
}

// GetDefaultConfigPathOrPanic returns ~/.config/limit, panicking when
// the home directory cannot be determined.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}
	return filepath.Join(homeDir, userConfigDir)
}

// GetDefaultConfig returns the built-in defaults.
func GetDefaultConfig() Config {
	return Config{
		Backend:  BackendConfig{URL: "https://api.limit.example"},
		Callback: CallbackConfig{Scheme: "limit", Port: 3000},
		Storage: StorageConfig{
			SecretsDir:   filepath.Join(userConfigDir, "secrets"),
			RegistryPath: filepath.Join(userConfigDir, "accounts.json"),
		},
		Refresh: RefreshConfig{
			Interval: 30 * time.Minute,
			Window:   30 * time.Minute,
		},
	}
}

// LoadConfig loads config.yaml from the given directory. A missing file
// yields the defaults; a malformed file is an error. Values set in the
// file override defaults field by field.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return config, nil
		}
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}

	logging.Debug("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}

// ResolvePath expands a storage path against the home directory unless
// it is already absolute.
func ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path)
}
