package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/stacksampler/internal/constants"
)

// Loader handles loading and saving the configuration file.
type Loader struct {
	fs   afero.Fs
	path string
}

// NewLoader creates a config loader on the host filesystem.
// The file location is resolved in this order:
//  1. STACKSAMPLER_CONFIG environment variable.
//  2. ~/.stacksampler/config.yaml.
//  3. /tmp/stacksampler-fallback/config.yaml when there is no home directory.
func NewLoader() *Loader {
	return NewLoaderAt(afero.NewOsFs(), DefaultPath())
}

// NewLoaderAt creates a loader for an explicit path on fs.
func NewLoaderAt(fs afero.Fs, path string) *Loader {
	return &Loader{fs: fs, path: path}
}

// DefaultPath returns the configuration file location.
func DefaultPath() string {
	if p := os.Getenv(constants.ConfigEnv); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp/stacksampler-fallback"
	}
	return filepath.Join(home, constants.DefaultDir, constants.ConfigFile)
}

// Path returns the file the loader reads.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the configuration file, falling back to defaults when it does
// not exist, then applies environment overrides and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	data, err := afero.ReadFile(l.fs, l.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", l.path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", l.path, err)
		}
	}

	if err := MergeFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to the loader's path, creating the directory if needed.
func (l *Loader) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := afero.WriteFile(l.fs, l.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
