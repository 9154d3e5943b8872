package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"funnel/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/funnel"
	configFileName = "config.yaml"
)

// GetDefaultConfigPath returns the user configuration directory.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads configuration from the given directory, which should
// contain config.yaml. Loading is a two-phase pipeline: strict YAML parse
// into the typed config, then environment reference substitution, then
// validation. Every failure surfaces here, at startup.
func LoadConfig(configPath string) (Config, error) {
	return loadConfig(configPath, NewEnvResolver())
}

func loadConfig(configPath string, resolver *EnvResolver) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	cfg := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("no config.yaml found at %s", configFilePath)
		}
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config from %s: %w", configFilePath, err)
	}

	// Fill server names from map keys; the YAML shape never repeats them.
	for name, srv := range cfg.Servers {
		srv.Name = name
		cfg.Servers[name] = srv
	}

	if err := resolver.ResolveConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("error resolving environment references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s (%d servers, %d overrides)",
		configFilePath, len(cfg.Servers), len(cfg.ToolOverrides))
	return cfg, nil
}

// LoadOverridesFile parses a standalone override table, used by the dynamic
// override facade's file-watch mode.
func LoadOverridesFile(path string) (map[string]ToolOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading overrides file %s: %w", path, err)
	}
	overrides := make(map[string]ToolOverride)
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("error parsing overrides file %s: %w", path, err)
	}
	return overrides, nil
}
