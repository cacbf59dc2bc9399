package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Set up Viper
	l.setupViper(cfg)

	// Load config file
	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Expand ~ in paths
	expandPaths(cfg)

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandPaths expands ~ in all path-related config fields.
func expandPaths(cfg *Config) {
	cfg.Global.DataDir = expandTilde(cfg.Global.DataDir)
	cfg.Global.ConfigDir = expandTilde(cfg.Global.ConfigDir)
	cfg.Database.Path = expandTilde(cfg.Database.Path)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
	cfg.Pool.ModelMapFile = expandTilde(cfg.Pool.ModelMapFile)
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	// Config file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// XDG config directory first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "kiln"))
	}

	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "kiln"))
	}

	// Current directory
	v.AddConfigPath(".")

	// Environment variables - KILN_ prefix
	v.SetEnvPrefix("KILN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults from config struct
	l.setDefaults(cfg)
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	// Global
	v.SetDefault("global.data_dir", cfg.Global.DataDir)
	v.SetDefault("global.config_dir", cfg.Global.ConfigDir)

	// Database
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.busy_timeout_ms", cfg.Database.BusyTimeoutMs)
	v.SetDefault("database.retention_days", cfg.Database.RetentionDays)

	// Logging
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	// Pool
	v.SetDefault("pool.endpoints", cfg.Pool.Endpoints)
	v.SetDefault("pool.probe_timeout", cfg.Pool.ProbeTimeout)
	v.SetDefault("pool.model_map_file", cfg.Pool.ModelMapFile)

	// Scoring
	v.SetDefault("scoring.capacity", cfg.Scoring.Capacity)
	v.SetDefault("scoring.decay_per_day", cfg.Scoring.DecayPerDay)
	v.SetDefault("scoring.quality_weight", cfg.Scoring.QualityWeight)
	v.SetDefault("scoring.success_weight", cfg.Scoring.SuccessWeight)
	v.SetDefault("scoring.speed_weight", cfg.Scoring.SpeedWeight)
	v.SetDefault("scoring.error_weight", cfg.Scoring.ErrorWeight)
	v.SetDefault("scoring.refinement_weight", cfg.Scoring.RefinementWeight)
	v.SetDefault("scoring.confidence_saturation", cfg.Scoring.ConfidenceSaturation)
	v.SetDefault("scoring.upgrade_below", cfg.Scoring.UpgradeBelow)
	v.SetDefault("scoring.upgrade_min_confidence", cfg.Scoring.UpgradeMinConfidence)
	v.SetDefault("scoring.downgrade_above", cfg.Scoring.DowngradeAbove)
	v.SetDefault("scoring.downgrade_min_confidence", cfg.Scoring.DowngradeMinConfidence)

	// Parser
	v.SetDefault("parser.max_input_bytes", cfg.Parser.MaxInputBytes)

	// LLM
	v.SetDefault("llm.provider", cfg.LLM.Provider)
	v.SetDefault("llm.request_timeout", cfg.LLM.RequestTimeout)
	v.SetDefault("llm.max_attempts", cfg.LLM.MaxAttempts)
	v.SetDefault("llm.retry_delay", cfg.LLM.RetryDelay)
	v.SetDefault("llm.api_key_ref", cfg.LLM.APIKeyRef)
}

// loadConfigFile attempts to load the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, use defaults
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	loader := NewLoader()
	return loader.Load()
}
