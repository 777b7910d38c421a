package config

import "fmt"

// Config holds every recognized option from spec §6. Field names map
// to lower_snake_case YAML keys and identically named environment
// variables (LOGS_DIR, STATE_FILE, …) — see loader.go.
type Config struct {
	LogsDir   string `koanf:"logs_dir"`
	StateFile string `koanf:"state_file"`
	StoreURL  string `koanf:"store_url"`

	PreferLocal  bool   `koanf:"prefer_local"`
	CloudAPIKey  Secret `koanf:"cloud_api_key"`

	EnableMemoryDecay bool    `koanf:"enable_memory_decay"`
	DecayWeight       float64 `koanf:"decay_weight"`
	DecayScaleDays    float64 `koanf:"decay_scale_days"`

	MemoryLimitMB        int `koanf:"memory_limit_mb"`
	MemoryWarningMB      int `koanf:"memory_warning_mb"`
	MaxCPUPercentPerCore int `koanf:"max_cpu_percent_per_core"`

	MaxQueueSize       int `koanf:"max_queue_size"`
	MaxColdFiles       int `koanf:"max_cold_files"`
	ImportFrequency    Duration `koanf:"import_frequency"`
	HotCheckIntervalS  Duration `koanf:"hot_check_interval_s"`
	MaxWarmWaitMinutes Duration `koanf:"max_warm_wait_minutes"`

	IngesterParallelism int      `koanf:"ingester_parallelism"`
	ShutdownGrace       Duration `koanf:"shutdown_grace"`

	BatchSize  int `koanf:"batch_size"`
	NetworkTimeout Duration `koanf:"network_timeout"`
}

// Validate checks invariants that applyDefaults cannot itself resolve
// (paths and credentials are the caller's to supply).
func (c *Config) Validate() error {
	if c.LogsDir == "" {
		return fmt.Errorf("logs_dir is required")
	}
	if c.StateFile == "" {
		return fmt.Errorf("state_file is required")
	}
	if c.StoreURL == "" {
		return fmt.Errorf("store_url is required")
	}
	if c.MemoryWarningMB > 0 && c.MemoryLimitMB > 0 && c.MemoryWarningMB >= c.MemoryLimitMB {
		return fmt.Errorf("memory_warning_mb (%d) must be less than memory_limit_mb (%d)", c.MemoryWarningMB, c.MemoryLimitMB)
	}
	if c.DecayWeight < 0 {
		return fmt.Errorf("decay_weight cannot be negative")
	}
	return nil
}
