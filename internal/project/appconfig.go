// Package project persists GangNest files: the YAML application config,
// scenario corpora for the algorithm tester and saved nesting jobs.
package project

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/piwi3910/GangNest/internal/model"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ConfigEnv names the environment variable that overrides the config path.
const ConfigEnv = "GANGNEST_CONFIG"

// DefaultConfigDir returns the default directory for application configuration.
// On all platforms this is ~/.gangnest/
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".gangnest")
}

// DefaultConfigPath returns $GANGNEST_CONFIG, or config.yaml in the
// default directory.
func DefaultConfigPath() string {
	if p := os.Getenv(ConfigEnv); p != "" {
		return p
	}
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// SaveAppConfig persists an AppConfig to the given path as YAML.
// It creates any missing parent directories automatically.
func SaveAppConfig(path string, config model.AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	return errors.Wrap(os.WriteFile(path, data, 0644), "failed to write config")
}

// LoadAppConfig reads an AppConfig from the given path. Keys absent from the
// file keep their defaults and unknown keys are rejected. A missing file
// yields DefaultAppConfig with no error.
func LoadAppConfig(path string) (model.AppConfig, error) {
	config := model.DefaultAppConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return model.AppConfig{}, errors.Wrap(err, "failed to read config")
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return model.AppConfig{}, errors.Wrapf(err, "failed to parse config %s", path)
	}
	if err := config.Validate(); err != nil {
		return model.AppConfig{}, errors.Wrapf(err, "invalid config %s", path)
	}
	return config, nil
}
