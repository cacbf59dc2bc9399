package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefault(t *testing.T) {
	// Use a temp directory as HOME to avoid picking up existing config files
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpHome, ".config"))

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}

	if cfg == nil {
		t.Fatal("LoadDefault() returned nil config")
	}

	// Check some defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected logging.level = 'info', got %q", cfg.Logging.Level)
	}

	if len(cfg.Pool.Endpoints) != 1 || cfg.Pool.Endpoints[0] != "http://localhost:11434" {
		t.Errorf("Expected default pool.endpoints = [http://localhost:11434], got %v", cfg.Pool.Endpoints)
	}

	if cfg.Scoring.Capacity != 1000 {
		t.Errorf("Expected scoring.capacity = 1000, got %d", cfg.Scoring.Capacity)
	}

	if cfg.Parser.MaxInputBytes != 256*1024 {
		t.Errorf("Expected parser.max_input_bytes = 262144, got %d", cfg.Parser.MaxInputBytes)
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create a temp config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: debug
  format: json
pool:
  endpoints:
    - http://gpu-box:11434
    - http://localhost:11434
scoring:
  capacity: 250
llm:
  provider: openai
  api_key_ref: env:KILN_API_KEY
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	// Check overridden values
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected logging.level = 'debug', got %q", cfg.Logging.Level)
	}

	if len(cfg.Pool.Endpoints) != 2 || cfg.Pool.Endpoints[0] != "http://gpu-box:11434" {
		t.Errorf("Expected two endpoints with gpu-box first, got %v", cfg.Pool.Endpoints)
	}

	if cfg.Scoring.Capacity != 250 {
		t.Errorf("Expected scoring.capacity = 250, got %d", cfg.Scoring.Capacity)
	}

	if cfg.LLM.Provider != "openai" {
		t.Errorf("Expected llm.provider = 'openai', got %q", cfg.LLM.Provider)
	}

	if cfg.LLM.APIKeyRef != "env:KILN_API_KEY" {
		t.Errorf("Expected llm.api_key_ref = 'env:KILN_API_KEY', got %q", cfg.LLM.APIKeyRef)
	}

	// Check defaults are still applied
	if cfg.Scoring.DecayPerDay != 0.0231 {
		t.Errorf("Expected default scoring.decay_per_day, got %v", cfg.Scoring.DecayPerDay)
	}
}

func TestModelsSection(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
models:
  "llama3.3:70b":
    tier: powerful
    role: planner
  "qwen2.5-coder":
    tier: fast
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	entry, ok := cfg.Models["llama3.3:70b"]
	if !ok {
		t.Fatalf("Expected models entry for llama3.3:70b, got %v", cfg.Models)
	}
	if string(entry.Tier) != "powerful" || string(entry.Role) != "planner" {
		t.Errorf("Expected tier=powerful role=planner, got tier=%q role=%q", entry.Tier, entry.Role)
	}

	entry, ok = cfg.Models["qwen2.5-coder"]
	if !ok {
		t.Fatalf("Expected models entry for qwen2.5-coder")
	}
	if string(entry.Tier) != "fast" || entry.Role != "" {
		t.Errorf("Expected tier=fast with no role, got tier=%q role=%q", entry.Tier, entry.Role)
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("KILN_LOGGING_LEVEL", "warn")
	t.Setenv("KILN_SCORING_CAPACITY", "50")

	loader := NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected logging.level = 'warn' from env, got %q", cfg.Logging.Level)
	}

	if cfg.Scoring.Capacity != 50 {
		t.Errorf("Expected scoring.capacity = 50 from env, got %d", cfg.Scoring.Capacity)
	}
}

func TestValidation(t *testing.T) {
	cfg := DefaultConfig()

	// Valid config should pass
	if err := cfg.Validate(); err != nil {
		t.Errorf("Valid config failed validation: %v", err)
	}

	// No endpoints
	cfg.Pool.Endpoints = nil
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for empty pool.endpoints")
	}

	// Endpoint without scheme
	cfg = DefaultConfig()
	cfg.Pool.Endpoints = []string{"localhost:11434"}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for endpoint without scheme")
	}

	// Weights that do not sum to 1
	cfg = DefaultConfig()
	cfg.Scoring.QualityWeight = 0.9
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for weights not summing to 1")
	}

	// Capacity below 1
	cfg = DefaultConfig()
	cfg.Scoring.Capacity = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for scoring.capacity = 0")
	}

	// Unknown provider
	cfg = DefaultConfig()
	cfg.LLM.Provider = "bedrock"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for unknown llm.provider")
	}

	// Bad model pin
	cfg = DefaultConfig()
	cfg.Models = map[string]ModelEntry{"m": {Tier: "huge"}}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for unknown tier")
	}
}

func TestConfigFileNotFound(t *testing.T) {
	// Should not error when config file doesn't exist (uses defaults)
	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() should not error when config file missing: %v", err)
	}

	if cfg == nil {
		t.Fatal("Config should not be nil")
	}
}

func TestExplicitConfigFileNotFound(t *testing.T) {
	// Should error when explicitly specified config file doesn't exist
	_, err := LoadFromFile("/nonexistent/config.yaml")
	if err == nil {
		t.Error("LoadFromFile() should error for nonexistent file")
	}
}

func TestDatabasePath(t *testing.T) {
	cfg := DefaultConfig()

	// Default should use DataDir
	expectedPath := filepath.Join(cfg.Global.DataDir, "kiln.db")
	if cfg.DatabasePath() != expectedPath {
		t.Errorf("DatabasePath() = %q, want %q", cfg.DatabasePath(), expectedPath)
	}

	// Explicit path should be used
	cfg.Database.Path = "/custom/path.db"
	if cfg.DatabasePath() != "/custom/path.db" {
		t.Errorf("DatabasePath() = %q, want '/custom/path.db'", cfg.DatabasePath())
	}
}

func TestRetentionAge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.RetentionDays = 30

	if got := cfg.RetentionAge(); got != 30*24*60*60*1e9 {
		t.Errorf("RetentionAge() = %v, want 720h", got)
	}

	cfg.Database.RetentionDays = 0
	if got := cfg.RetentionAge(); got != 0 {
		t.Errorf("RetentionAge() = %v, want 0", got)
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Global.DataDir = filepath.Join(tmpDir, "data")
	cfg.Global.ConfigDir = filepath.Join(tmpDir, "config")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories() error = %v", err)
	}

	// Check directories exist
	if _, err := os.Stat(cfg.Global.DataDir); os.IsNotExist(err) {
		t.Error("DataDir was not created")
	}

	if _, err := os.Stat(cfg.Global.ConfigDir); os.IsNotExist(err) {
		t.Error("ConfigDir was not created")
	}
}

func TestExpandTilde(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "absolute path", input: "/var/log/test", expected: "/var/log/test"},
		{name: "relative path", input: "data/file", expected: "data/file"},
		{name: "tilde only", input: "~", expected: home},
		{name: "tilde with path", input: "~/data/kiln", expected: filepath.Join(home, "data/kiln")},
		{name: "tilde in middle", input: "/var/~/data", expected: "/var/~/data"}, // should not expand
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandTilde(tt.input)
			if result != tt.expected {
				t.Errorf("expandTilde(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestExpandPathsInConfig(t *testing.T) {
	home, _ := os.UserHomeDir()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
global:
  data_dir: ~/.local/share/kiln
  config_dir: ~/.config/kiln
database:
  path: ~/custom/db.sqlite
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	expectedDataDir := filepath.Join(home, ".local/share/kiln")
	if cfg.Global.DataDir != expectedDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.Global.DataDir, expectedDataDir)
	}

	expectedDBPath := filepath.Join(home, "custom/db.sqlite")
	if cfg.Database.Path != expectedDBPath {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, expectedDBPath)
	}
}
