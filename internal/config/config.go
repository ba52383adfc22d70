// Package config handles configuration loading and management for crowdom.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for crowdom.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Journal JournalConfig `mapstructure:"journal"`
	Log     LogConfig     `mapstructure:"log"`
	Loop    LoopConfig    `mapstructure:"loop"`
	Driver  DriverConfig  `mapstructure:"driver"`
	Signals SignalsConfig `mapstructure:"signals"`
}

// StoreConfig locates the platform database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// JournalConfig locates the run journal.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds debug log settings. An empty path disables logging.
type LogConfig struct {
	Path string `mapstructure:"path"`
}

// LoopConfig holds loop pacing settings.
type LoopConfig struct {
	// PollInterval is the pause between iterations that made no progress.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// MaxIterations bounds a run; zero means until the pool closes.
	MaxIterations int `mapstructure:"max_iterations"`
}

// DriverConfig holds settings for running several pools.
type DriverConfig struct {
	// Schedule is a cron spec for periodic iterations.
	Schedule string `mapstructure:"schedule"`
	// Parallelism bounds how many pools run at once.
	Parallelism int `mapstructure:"parallelism"`
}

// SignalsConfig locates the stop/pause signal files.
type SignalsConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (CROWDOM_LOOP_POLL_INTERVAL, ...)
// 2. Project config (.crowdom.yaml in current directory or parent)
// 3. User config (~/.config/crowdom/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CROWDOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Store.Path = os.ExpandEnv(cfg.Store.Path)
	cfg.Journal.Path = os.ExpandEnv(cfg.Journal.Path)
	cfg.Log.Path = os.ExpandEnv(cfg.Log.Path)
	cfg.Signals.Dir = os.ExpandEnv(cfg.Signals.Dir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Loop.PollInterval < 0 {
		return fmt.Errorf("loop.poll_interval must not be negative, got %v", c.Loop.PollInterval)
	}
	if c.Loop.MaxIterations < 0 {
		return fmt.Errorf("loop.max_iterations must not be negative, got %d", c.Loop.MaxIterations)
	}
	if c.Driver.Parallelism < 1 {
		return fmt.Errorf("driver.parallelism must be at least 1, got %d", c.Driver.Parallelism)
	}
	if c.Driver.Schedule == "" {
		return fmt.Errorf("driver.schedule must not be empty")
	}
	return nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveTo(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveTo writes the configuration to path.
func SaveTo(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	for _, k := range Keys() {
		val, _ := Get(cfg, k)
		v.Set(k, val)
	}
	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("store.path", filepath.Join(".crowdom", "platform.db"))
	v.SetDefault("journal.path", filepath.Join(".crowdom", "journal.db"))
	v.SetDefault("log.path", filepath.Join(".crowdom", "logs", "crowdom.log"))

	v.SetDefault("loop.poll_interval", "30s")
	v.SetDefault("loop.max_iterations", 0)

	v.SetDefault("driver.schedule", "@every 1m")
	v.SetDefault("driver.parallelism", 4)

	v.SetDefault("signals.dir", filepath.Join(".crowdom", "signals"))
}

// getUserConfigDir returns the XDG config directory for crowdom.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "crowdom")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "crowdom")
	}
	return filepath.Join(home, ".config", "crowdom")
}

// findProjectConfig searches for .crowdom.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".crowdom.yaml")
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

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Store:   StoreConfig{Path: filepath.Join(".crowdom", "platform.db")},
		Journal: JournalConfig{Path: filepath.Join(".crowdom", "journal.db")},
		Log:     LogConfig{Path: filepath.Join(".crowdom", "logs", "crowdom.log")},
		Loop: LoopConfig{
			PollInterval: 30 * time.Second,
		},
		Driver: DriverConfig{
			Schedule:    "@every 1m",
			Parallelism: 4,
		},
		Signals: SignalsConfig{Dir: filepath.Join(".crowdom", "signals")},
	}
}
