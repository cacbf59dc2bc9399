// Package config handles kiln configuration loading and validation.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jberon/kiln/internal/models"
)

// Config is the root configuration structure for kiln.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Database settings for the outcome archive
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Pool settings: endpoints and discovery behavior
	Pool PoolConfig `yaml:"pool" mapstructure:"pool"`

	// Scoring settings: outcome store and composite-score tuning
	Scoring ScoringConfig `yaml:"scoring" mapstructure:"scoring"`

	// Parser settings
	Parser ParserConfig `yaml:"parser" mapstructure:"parser"`

	// LLM settings for the executor client
	LLM LLMConfig `yaml:"llm" mapstructure:"llm"`

	// Models pins tiers and roles per model name. Names may carry a
	// ":tag" suffix or not; unlisted models fall back to name inference.
	Models map[string]ModelEntry `yaml:"models" mapstructure:"models"`
}

// GlobalConfig contains global kiln settings.
type GlobalConfig struct {
	// DataDir is where kiln stores its data (default: ~/.local/share/kiln).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/kiln).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// DatabaseConfig contains outcome archive settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path (default: DataDir/kiln.db).
	Path string `yaml:"path" mapstructure:"path"`

	// BusyTimeoutMs is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`

	// RetentionDays trims archived outcomes older than this many days at
	// startup. Zero keeps everything.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// PoolConfig contains model pool settings.
type PoolConfig struct {
	// Endpoints are the base URLs probed during discovery.
	Endpoints []string `yaml:"endpoints" mapstructure:"endpoints"`

	// ProbeTimeout bounds a single endpoint probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`

	// ModelMapFile is an optional TOML file with tier/role pins, merged
	// under the models section (the config section wins on conflict).
	ModelMapFile string `yaml:"model_map_file" mapstructure:"model_map_file"`
}

// ScoringConfig contains outcome scoring settings. The component weights
// form the composite score and must sum to 1.
type ScoringConfig struct {
	// Capacity bounds the in-memory outcome store.
	Capacity int `yaml:"capacity" mapstructure:"capacity"`

	// DecayPerDay is the exponential age decay constant k in
	// weight = e^(-ageDays*k).
	DecayPerDay float64 `yaml:"decay_per_day" mapstructure:"decay_per_day"`

	QualityWeight    float64 `yaml:"quality_weight" mapstructure:"quality_weight"`
	SuccessWeight    float64 `yaml:"success_weight" mapstructure:"success_weight"`
	SpeedWeight      float64 `yaml:"speed_weight" mapstructure:"speed_weight"`
	ErrorWeight      float64 `yaml:"error_weight" mapstructure:"error_weight"`
	RefinementWeight float64 `yaml:"refinement_weight" mapstructure:"refinement_weight"`

	// ConfidenceSaturation is the sample count at which confidence
	// reaches 1.
	ConfidenceSaturation int `yaml:"confidence_saturation" mapstructure:"confidence_saturation"`

	// Tier recommendation thresholds.
	UpgradeBelow           float64 `yaml:"upgrade_below" mapstructure:"upgrade_below"`
	UpgradeMinConfidence   float64 `yaml:"upgrade_min_confidence" mapstructure:"upgrade_min_confidence"`
	DowngradeAbove         float64 `yaml:"downgrade_above" mapstructure:"downgrade_above"`
	DowngradeMinConfidence float64 `yaml:"downgrade_min_confidence" mapstructure:"downgrade_min_confidence"`
}

// ParserConfig contains output parser settings.
type ParserConfig struct {
	// MaxInputBytes hard-caps raw parser input length.
	MaxInputBytes int `yaml:"max_input_bytes" mapstructure:"max_input_bytes"`
}

// LLMConfig contains executor client settings.
type LLMConfig struct {
	// Provider selects the wire protocol (ollama, openai).
	Provider string `yaml:"provider" mapstructure:"provider"`

	// RequestTimeout bounds a single generation request attempt.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`

	// MaxAttempts is the retry budget per request.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`

	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`

	// APIKeyRef resolves the API key for openai-compatible endpoints:
	// "env:NAME", "vault:NAME", or a literal value. Empty sends no key.
	APIKeyRef string `yaml:"api_key_ref" mapstructure:"api_key_ref"`
}

// ModelEntry pins a model name to a tier and/or role.
type ModelEntry struct {
	// Tier overrides name-based tier inference (fast, balanced, powerful).
	Tier models.ModelTier `yaml:"tier" mapstructure:"tier"`

	// Role pins the model's slots to a role (planner, builder, reviewer, any).
	Role models.Role `yaml:"role" mapstructure:"role"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "kiln"),
			ConfigDir: filepath.Join(homeDir, ".config", "kiln"),
		},
		Database: DatabaseConfig{
			Path:          "", // Will be set to DataDir/kiln.db
			BusyTimeoutMs: 5000,
			RetentionDays: 90,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			EnableCaller: false,
		},
		Pool: PoolConfig{
			Endpoints:    []string{"http://localhost:11434"},
			ProbeTimeout: 5 * time.Second,
		},
		Scoring: ScoringConfig{
			Capacity:               1000,
			DecayPerDay:            0.0231, // ~30-day half-life
			QualityWeight:          0.35,
			SuccessWeight:          0.25,
			SpeedWeight:            0.15,
			ErrorWeight:            0.15,
			RefinementWeight:       0.10,
			ConfidenceSaturation:   10,
			UpgradeBelow:           0.4,
			UpgradeMinConfidence:   0.5,
			DowngradeAbove:         0.6,
			DowngradeMinConfidence: 0.3,
		},
		Parser: ParserConfig{
			MaxInputBytes: 256 * 1024,
		},
		LLM: LLMConfig{
			Provider:       "ollama",
			RequestTimeout: 120 * time.Second,
			MaxAttempts:    3,
			RetryDelay:     2 * time.Second,
		},
		Models: map[string]ModelEntry{},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Global.DataDir) == "" {
		return fmt.Errorf("global.data_dir is required")
	}
	if strings.TrimSpace(c.Global.ConfigDir) == "" {
		return fmt.Errorf("global.config_dir is required")
	}

	if c.Database.BusyTimeoutMs < 0 {
		return fmt.Errorf("database.busy_timeout_ms must be zero or greater")
	}
	if c.Database.RetentionDays < 0 {
		return fmt.Errorf("database.retention_days must be zero or greater")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be one of console, json")
	}

	if len(c.Pool.Endpoints) == 0 {
		return fmt.Errorf("pool.endpoints must list at least one endpoint")
	}
	for i, endpoint := range c.Pool.Endpoints {
		trimmed := strings.TrimSpace(endpoint)
		if trimmed == "" {
			return fmt.Errorf("pool.endpoints[%d] is empty", i)
		}
		if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
			return fmt.Errorf("pool.endpoints[%d] must start with http:// or https://", i)
		}
	}
	if c.Pool.ProbeTimeout <= 0 {
		return fmt.Errorf("pool.probe_timeout must be greater than 0")
	}

	if c.Scoring.Capacity < 1 {
		return fmt.Errorf("scoring.capacity must be at least 1")
	}
	if c.Scoring.DecayPerDay < 0 {
		return fmt.Errorf("scoring.decay_per_day must be zero or greater")
	}
	weights := []struct {
		key   string
		value float64
	}{
		{"scoring.quality_weight", c.Scoring.QualityWeight},
		{"scoring.success_weight", c.Scoring.SuccessWeight},
		{"scoring.speed_weight", c.Scoring.SpeedWeight},
		{"scoring.error_weight", c.Scoring.ErrorWeight},
		{"scoring.refinement_weight", c.Scoring.RefinementWeight},
	}
	sum := 0.0
	for _, w := range weights {
		if w.value < 0 || w.value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", w.key)
		}
		sum += w.value
	}
	if math.Abs(sum-1) > 0.001 {
		return fmt.Errorf("scoring component weights must sum to 1, got %.3f", sum)
	}
	if c.Scoring.ConfidenceSaturation < 1 {
		return fmt.Errorf("scoring.confidence_saturation must be at least 1")
	}
	thresholds := []struct {
		key   string
		value float64
	}{
		{"scoring.upgrade_below", c.Scoring.UpgradeBelow},
		{"scoring.upgrade_min_confidence", c.Scoring.UpgradeMinConfidence},
		{"scoring.downgrade_above", c.Scoring.DowngradeAbove},
		{"scoring.downgrade_min_confidence", c.Scoring.DowngradeMinConfidence},
	}
	for _, th := range thresholds {
		if th.value < 0 || th.value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", th.key)
		}
	}

	if c.Parser.MaxInputBytes < 1 {
		return fmt.Errorf("parser.max_input_bytes must be at least 1")
	}

	switch strings.ToLower(strings.TrimSpace(c.LLM.Provider)) {
	case "ollama", "openai":
	default:
		return fmt.Errorf("llm.provider must be one of ollama, openai")
	}
	if c.LLM.RequestTimeout <= 0 {
		return fmt.Errorf("llm.request_timeout must be greater than 0")
	}
	if c.LLM.MaxAttempts < 1 {
		return fmt.Errorf("llm.max_attempts must be at least 1")
	}
	if c.LLM.RetryDelay < 0 {
		return fmt.Errorf("llm.retry_delay must be zero or greater")
	}

	for name, entry := range c.Models {
		if entry.Tier != "" && !entry.Tier.Valid() {
			return fmt.Errorf("models.%s.tier must be one of fast, balanced, powerful", name)
		}
		if entry.Role != "" && !entry.Role.Valid() {
			return fmt.Errorf("models.%s.role must be one of planner, builder, reviewer, any", name)
		}
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DatabasePath returns the full database path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Global.DataDir, "kiln.db")
}

// RetentionAge converts retention_days into a duration. Zero means keep
// everything.
func (c *Config) RetentionAge() time.Duration {
	return time.Duration(c.Database.RetentionDays) * 24 * time.Hour
}
