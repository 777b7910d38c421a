package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTempHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, EnsureConfigDir())
	return home
}

func writeConfigFile(t *testing.T, home, content string) string {
	t.Helper()
	path := filepath.Join(home, ".config", "reflectd", "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithFile_AppliesDefaults(t *testing.T) {
	home := withTempHome(t)
	writeConfigFile(t, home, "logs_dir: /tmp/logs\nstate_file: /tmp/state.json\nstore_url: http://localhost:6334\n")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.True(t, cfg.PreferLocal, "prefer_local must default true")
	assert.Equal(t, 1024, cfg.MemoryLimitMB)
	assert.Equal(t, 800, cfg.MemoryWarningMB)
	assert.Equal(t, 50, cfg.MaxCPUPercentPerCore)
	assert.Equal(t, 0.3, cfg.DecayWeight)
	assert.Equal(t, 90.0, cfg.DecayScaleDays)
	assert.Equal(t, 1, cfg.IngesterParallelism)
}

func TestLoadWithFile_ExplicitPreferLocalFalseOverridesDefault(t *testing.T) {
	home := withTempHome(t)
	writeConfigFile(t, home, "logs_dir: /tmp/logs\nstate_file: /tmp/state.json\nstore_url: http://localhost:6334\nprefer_local: false\n")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.False(t, cfg.PreferLocal)
	assert.Equal(t, 4, cfg.IngesterParallelism, "cloud provider defaults to parallelism 4")
}

func TestLoadWithFile_MissingRequiredFieldIsError(t *testing.T) {
	home := withTempHome(t)
	writeConfigFile(t, home, "store_url: http://localhost:6334\n")

	_, err := LoadWithFile("")
	assert.Error(t, err)
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	home := withTempHome(t)
	path := writeConfigFile(t, home, "logs_dir: /tmp/logs\nstate_file: /tmp/state.json\nstore_url: http://localhost:6334\n")
	require.NoError(t, os.Chmod(path, 0o644))

	_, err := LoadWithFile("")
	assert.Error(t, err)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	home := withTempHome(t)
	writeConfigFile(t, home, "logs_dir: /tmp/logs\nstate_file: /tmp/state.json\nstore_url: http://localhost:6334\nmax_cpu_percent_per_core: 50\n")
	t.Setenv("MAX_CPU_PERCENT_PER_CORE", "75")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, 75, cfg.MaxCPUPercentPerCore)
}

func TestConfigValidate_WarningMustBeBelowLimit(t *testing.T) {
	cfg := Config{LogsDir: "/tmp", StateFile: "/tmp/s.json", StoreURL: "http://x", MemoryWarningMB: 1024, MemoryLimitMB: 1024}
	assert.Error(t, cfg.Validate())
}
