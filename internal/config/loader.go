package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"oneiric/internal/api"
	"oneiric/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/oneiric"
	configFileName = "config.yaml"

	// EnvConfig overrides the configuration directory.
	EnvConfig = "ONEIRIC_CONFIG"

	// EnvStackOrder overrides the stack-order specification. Accepts
	// "name:priority,name:priority" or a bare "name,name,..." list where
	// position assigns descending priority.
	EnvStackOrder = "ONEIRIC_STACK_ORDER"

	// EnvTrustedPublicKeys holds a comma-separated list of base64 Ed25519
	// public keys trusted for manifest verification.
	EnvTrustedPublicKeys = "ONEIRIC_TRUSTED_PUBLIC_KEYS"
)

// GetDefaultConfigPath returns the per-user configuration directory,
// honoring the ONEIRIC_CONFIG override.
func GetDefaultConfigPath() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadSettings loads configuration from the given directory. A missing
// config.yaml is not an error; defaults and environment overrides still
// apply. A malformed file is a ConfigError.
func LoadSettings(configPath string) (Settings, error) {
	settings := GetDefaultSettings()
	settings.ConfigDir = configPath

	configFilePath := filepath.Join(configPath, configFileName)
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			applyEnvOverrides(&settings)
			return settings, nil
		}
		return Settings{}, api.NewConfigError("config.yaml", fmt.Sprintf("error reading %s", configFilePath), err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, api.NewConfigError("config.yaml", fmt.Sprintf("error parsing %s", configFilePath), err)
	}
	if settings.ConfigDir == "" {
		settings.ConfigDir = configPath
	}
	applyEnvOverrides(&settings)
	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return settings, nil
}

// applyEnvOverrides layers environment variables over file-derived values.
func applyEnvOverrides(settings *Settings) {
	if v := os.Getenv(EnvStackOrder); v != "" {
		order, err := ParseStackOrder(v)
		if err != nil {
			logging.Warn("ConfigLoader", "Ignoring malformed %s: %v", EnvStackOrder, err)
		} else {
			settings.StackOrder = order
		}
	}
	if v := os.Getenv(EnvTrustedPublicKeys); v != "" {
		var keys []string
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		settings.TrustedPublicKeys = keys
	}
}

// ParseStackOrder parses a stack-order specification. Two forms are
// accepted: "name:priority,name:priority" with explicit priorities, and
// "name,name,..." where the first entry gets the highest priority.
func ParseStackOrder(spec string) ([]api.StackEntry, error) {
	parts := strings.Split(spec, ",")
	var entries []api.StackEntry
	explicit := strings.Contains(spec, ":")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if explicit {
			name, prioStr, found := strings.Cut(part, ":")
			if !found {
				return nil, fmt.Errorf("entry %q missing priority", part)
			}
			prio, err := strconv.Atoi(strings.TrimSpace(prioStr))
			if err != nil {
				return nil, fmt.Errorf("entry %q has non-numeric priority: %w", part, err)
			}
			entries = append(entries, api.StackEntry{Source: strings.TrimSpace(name), Priority: prio})
		} else {
			entries = append(entries, api.StackEntry{Source: part, Priority: len(parts) - i})
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("empty stack order specification")
	}
	return entries, nil
}
