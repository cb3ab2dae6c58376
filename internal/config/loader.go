package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".vigil"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
// VIGIL_CONFIG overrides the default ~/.vigil/config.json location.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("VIGIL_CONFIG")); explicit != "" {
		return ExpandHome(explicit)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// ExpandHome resolves a leading ~ to the user's home directory.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Load reads configuration from the config file (if present) and applies
// VIGIL_* environment overrides on top. A missing file is not an error: the
// defaults are returned with env overrides applied.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	// Env overrides, one prefix per group so envconfig tags stay short.
	if err := envconfig.Process("VIGIL", &cfg.Paths); err != nil {
		return cfg, fmt.Errorf("env paths: %w", err)
	}
	if err := envconfig.Process("VIGIL_ATTENTION", &cfg.Attention); err != nil {
		return cfg, fmt.Errorf("env attention: %w", err)
	}
	if err := envconfig.Process("VIGIL_CONTEXT", &cfg.Context); err != nil {
		return cfg, fmt.Errorf("env context: %w", err)
	}
	if err := envconfig.Process("VIGIL_REASONING", &cfg.Reasoning); err != nil {
		return cfg, fmt.Errorf("env reasoning: %w", err)
	}
	if err := envconfig.Process("VIGIL_DECISION", &cfg.Decision); err != nil {
		return cfg, fmt.Errorf("env decision: %w", err)
	}
	if err := envconfig.Process("VIGIL_DISPATCH", &cfg.Dispatch); err != nil {
		return cfg, fmt.Errorf("env dispatch: %w", err)
	}
	if err := envconfig.Process("VIGIL_SCHEDULER", &cfg.Scheduler); err != nil {
		return cfg, fmt.Errorf("env scheduler: %w", err)
	}
	if err := envconfig.Process("VIGIL_STATE", &cfg.State); err != nil {
		return cfg, fmt.Errorf("env state: %w", err)
	}
	if err := envconfig.Process("VIGIL_OBSERVERS", &cfg.Observers); err != nil {
		return cfg, fmt.Errorf("env observers: %w", err)
	}
	if err := envconfig.Process("VIGIL_NOTIFY", &cfg.Notify); err != nil {
		return cfg, fmt.Errorf("env notify: %w", err)
	}

	cfg.Paths.StateDir, err = ExpandHome(cfg.Paths.StateDir)
	if err != nil {
		return cfg, fmt.Errorf("expand state dir: %w", err)
	}
	cfg.Paths.RepoPath, err = ExpandHome(cfg.Paths.RepoPath)
	if err != nil {
		return cfg, fmt.Errorf("expand repo path: %w", err)
	}

	return cfg, nil
}

// Save writes the config to the default config path, creating the directory
// if needed. Used by `vigil configure` style flows and tests.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
