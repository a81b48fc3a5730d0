package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TASKCORE_MAX_WORKERS or
// TASKCORE_FEEDBACK_LEARNING_DELTA.
const EnvPrefix = "TASKCORE"

// configNames are tried in order when looking for a config file in a directory.
var configNames = []string{"config.yaml", "config.yml", "config.json"}

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): environment, project config,
// global config, defaults. Missing files are not errors; malformed files
// return an error.
func Load(globalPath, projectPath string) (*Config, error) {
	v := newViper()

	// Merge global config if exists
	if globalPath != "" {
		if err := mergeConfigFile(v, globalPath, false); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Merge project config if exists (highest file precedence)
	if projectPath != "" {
		if err := mergeConfigFile(v, projectPath, false); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFile reads a single config file on top of the defaults. Unlike Load,
// the file must exist.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	if err := mergeConfigFile(v, path, true); err != nil {
		return nil, err
	}
	return decode(v)
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.taskcore/config.{yaml,yml,json}
// Project: .taskcore/config.{yaml,yml,json} (relative to cwd)
func LoadDefault() (*Config, error) {
	globalPath, projectPath, err := DefaultPaths()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, projectPath)
}

// DefaultPaths returns the global and project config paths LoadDefault
// reads. A directory with no config file yields its config.yaml path.
func DefaultPaths() (global, project string, err error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("getting home directory: %w", err)
	}
	return findConfig(filepath.Join(homeDir, ".taskcore")), findConfig(".taskcore"), nil
}

func findConfig(dir string) string {
	for _, name := range configNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(dir, configNames[0])
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// mergeConfigFile reads a YAML or JSON config file and merges it into v.
// Missing files are skipped unless required.
func mergeConfigFile(v *viper.Viper, path string, required bool) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if required {
			return fmt.Errorf("config file %s not found", path)
		}
		return nil // Missing file is not an error
	}

	file := viper.New()
	file.SetConfigFile(path)
	if err := file.ReadInConfig(); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := v.MergeConfigMap(file.AllSettings()); err != nil {
		return fmt.Errorf("merging %s: %w", path, err)
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Rules are a list, so they are replaced as a whole rather than merged
	if !v.IsSet("priority.rules") {
		cfg.Priority.Rules = DefaultConfig().Priority.Rules
	}
	if cfg.Resources == nil {
		cfg.Resources = map[string]int{}
	}
	return cfg, nil
}
