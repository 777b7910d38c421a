// Package config loads reflectd's configuration from a YAML file
// layered with environment variable overrides, using koanf the way
// the teacher codebase does.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// LoadWithFile loads configuration from a YAML file, then overrides
// with environment variables, then applies defaults.
//
// Precedence (highest to lowest): environment variables, YAML file,
// hardcoded defaults. The default path is ~/.config/reflectd/config.yaml.
//
// Configuration files MUST have 0600 or 0400 permissions and MUST live
// in ~/.config/reflectd/ or /etc/reflectd/; anything else is rejected
// to keep a stray --config flag from reading an arbitrary file.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	// prefer_local defaults true; loaded first so an explicit "false" in
	// the file or environment can still override it. Every other
	// default is numeric and applied post-unmarshal in applyDefaults,
	// where a zero value unambiguously means "unset".
	if err := k.Load(confmap.Provider(map[string]interface{}{"prefer_local": true}, "."), nil); err != nil {
		return nil, fmt.Errorf("loading built-in defaults: %w", err)
	}

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "reflectd", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("opening config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat-ing config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	// Environment variables map 1:1 onto the flat option names in §6:
	// LOGS_DIR -> logs_dir, MAX_CPU_PERCENT_PER_CORE -> max_cpu_percent_per_core.
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("loading environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// EnsureConfigDir creates the reflectd config directory if absent.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	configDir := filepath.Join(home, ".config", "reflectd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory %s: %w", configDir, err)
	}
	return nil
}

func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath // path may not exist yet
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "reflectd"),
		"/etc/reflectd",
	}
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/reflectd/ or /etc/reflectd/")
}

func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults fills every option named in spec §6 with its documented
// default, leaving already-set values untouched.
func applyDefaults(cfg *Config) {
	if cfg.MemoryLimitMB == 0 {
		if cfg.MemoryWarningMB == 0 {
			cfg.MemoryWarningMB = 800
		}
		cfg.MemoryLimitMB = 1024
	} else if cfg.MemoryWarningMB == 0 {
		cfg.MemoryWarningMB = cfg.MemoryLimitMB - 200
	}
	if cfg.MaxCPUPercentPerCore == 0 {
		cfg.MaxCPUPercentPerCore = 50
	}
	if cfg.MaxQueueSize == 0 {
		cfg.MaxQueueSize = 10000
	}
	if cfg.MaxColdFiles == 0 {
		cfg.MaxColdFiles = 3
	}
	if cfg.ImportFrequency == 0 {
		cfg.ImportFrequency = Duration(60e9) // 60s, in ns
	}
	if cfg.HotCheckIntervalS == 0 {
		cfg.HotCheckIntervalS = Duration(2e9)
	}
	if cfg.MaxWarmWaitMinutes == 0 {
		cfg.MaxWarmWaitMinutes = Duration(30 * 60e9)
	}
	if cfg.IngesterParallelism == 0 {
		if cfg.PreferLocal {
			cfg.IngesterParallelism = 1
		} else {
			cfg.IngesterParallelism = 4
		}
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = Duration(30e9)
	}
	if cfg.NetworkTimeout == 0 {
		cfg.NetworkTimeout = Duration(30e9)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 5
	}
	if cfg.DecayWeight == 0 {
		cfg.DecayWeight = 0.3
	}
	if cfg.DecayScaleDays == 0 {
		cfg.DecayScaleDays = 90
	}
}
