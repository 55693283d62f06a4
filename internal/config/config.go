// Package config handles configuration loading and management for conveyor.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for conveyor.
type Config struct {
	Data     DataConfig     `mapstructure:"data"`
	Runs     RunsConfig     `mapstructure:"runs"`
	Registry RegistryConfig `mapstructure:"registry"`
	Index    IndexConfig    `mapstructure:"index"`
}

// DataConfig holds storage locations.
type DataConfig struct {
	// Dir is where the run database, artifacts, and logs live.
	Dir string `mapstructure:"dir"`
	// SpoolDir is the directory the serve command watches for event files.
	SpoolDir string `mapstructure:"spool_dir"`
}

// RunsConfig holds run execution settings.
type RunsConfig struct {
	// MaxParallelStages caps concurrently running stages per run.
	MaxParallelStages int `mapstructure:"max_parallel_stages"`
	// MaxParallelCells caps concurrently running matrix cells.
	MaxParallelCells int `mapstructure:"max_parallel_cells"`
	// TestReruns is how many times a failed matrix cell is re-run.
	TestReruns int `mapstructure:"test_reruns"`
	// StageTimeout bounds a single stage. Zero disables it.
	StageTimeout time.Duration `mapstructure:"stage_timeout"`
	// PollInterval is the scheduler idle poll interval.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// RetentionDays is how long finished runs are kept.
	RetentionDays int `mapstructure:"retention_days"`
}

// RegistryConfig holds container registry settings.
type RegistryConfig struct {
	Host string `mapstructure:"host"`
	// Image is the repository path within the registry ("org/app").
	Image string `mapstructure:"image"`
	// PlainHTTP uses HTTP instead of HTTPS. For local registries.
	PlainHTTP bool `mapstructure:"plain_http"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// IndexConfig holds package index settings.
type IndexConfig struct {
	// URL is the upload endpoint of the package index.
	URL string `mapstructure:"url"`
	// Package is the distribution name uploads are recorded under.
	Package string `mapstructure:"package"`
	// IdentityTokenEnv names the environment variable carrying the OIDC
	// identity token for trusted publishing.
	IdentityTokenEnv string `mapstructure:"identity_token_env"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (CONVEYOR_REGISTRY_PASSWORD and friends)
// 2. Project config (.conveyor.yaml in current directory or parent)
// 3. User config (~/.config/conveyor/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("registry.username", "CONVEYOR_REGISTRY_USERNAME")
	v.BindEnv("registry.password", "CONVEYOR_REGISTRY_PASSWORD")
	v.BindEnv("index.url", "CONVEYOR_INDEX_URL")
	v.BindEnv("data.dir", "CONVEYOR_DATA_DIR")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Registry.Password = expandEnv(cfg.Registry.Password)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Registry.Password = expandEnv(cfg.Registry.Password)

	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("data.dir", defaultDataDir())
	v.SetDefault("data.spool_dir", filepath.Join(defaultDataDir(), "spool"))

	v.SetDefault("runs.max_parallel_stages", 4)
	v.SetDefault("runs.max_parallel_cells", runtime.NumCPU())
	v.SetDefault("runs.test_reruns", 3)
	v.SetDefault("runs.stage_timeout", "30m")
	v.SetDefault("runs.poll_interval", "100ms")
	v.SetDefault("runs.retention_days", 30)

	v.SetDefault("registry.host", "")
	v.SetDefault("registry.image", "")
	v.SetDefault("registry.plain_http", false)

	v.SetDefault("index.url", "https://upload.pypi.org/legacy/")
	v.SetDefault("index.identity_token_env", "CONVEYOR_ID_TOKEN")
}

func defaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "conveyor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".conveyor")
	}
	return filepath.Join(home, ".local", "share", "conveyor")
}

// getUserConfigDir returns the XDG config directory for conveyor.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "conveyor")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "conveyor")
	}
	return filepath.Join(home, ".config", "conveyor")
}

// findProjectConfig searches for .conveyor.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".conveyor.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			Dir:      defaultDataDir(),
			SpoolDir: filepath.Join(defaultDataDir(), "spool"),
		},
		Runs: RunsConfig{
			MaxParallelStages: 4,
			MaxParallelCells:  runtime.NumCPU(),
			TestReruns:        3,
			StageTimeout:      30 * time.Minute,
			PollInterval:      100 * time.Millisecond,
			RetentionDays:     30,
		},
		Index: IndexConfig{
			URL:              "https://upload.pypi.org/legacy/",
			IdentityTokenEnv: "CONVEYOR_ID_TOKEN",
		},
	}
}
