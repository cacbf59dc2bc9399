package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	configInitForce bool
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)

	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite existing config file")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage global configuration",
	Long:  `Manage kiln global configuration at ~/.config/kiln/config.yaml.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default global config file",
	Long: `Create a default global configuration file at ~/.config/kiln/config.yaml.

The generated config includes all available options with their default values
and explanatory comments. You can then edit it to customize kiln behavior.

Use --force to overwrite an existing config file.`,
	Example: `  kiln config init
  kiln config init --force`,
	RunE: runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the global config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath := filepath.Join(home, ".config", "kiln", "config.yaml")

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, map[string]string{"path": configPath})
		}

		fmt.Println(configPath)
		return nil
	},
}

type configInitResult struct {
	Path    string `json:"path"`
	Created bool   `json:"created"`
	Message string `json:"message,omitempty"`
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "kiln")
	configPath := filepath.Join(configDir, "config.yaml")

	// Check if file exists
	if !configInitForce {
		if _, err := os.Stat(configPath); err == nil {
			result := configInitResult{
				Path:    configPath,
				Created: false,
				Message: "config file already exists (use --force to overwrite)",
			}
			if IsJSONOutput() || IsJSONLOutput() {
				data, _ := json.Marshal(result)
				fmt.Println(string(data))
				return nil
			}
			fmt.Printf("Config file already exists: %s\n", configPath)
			fmt.Println("Use --force to overwrite.")
			return nil
		}
	}

	// Create directory if needed
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(configPath, []byte(defaultGlobalConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	result := configInitResult{
		Path:    configPath,
		Created: true,
	}

	if IsJSONOutput() || IsJSONLOutput() {
		data, _ := json.Marshal(result)
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Created config file: %s\n", configPath)
	fmt.Println("\nEdit this file to customize kiln behavior.")
	return nil
}

const defaultGlobalConfig = `# Kiln Global Configuration
# Location: ~/.config/kiln/config.yaml
#
# This file configures global kiln behavior. All settings have sensible
# defaults, so you only need to uncomment and modify the ones you want to
# change.
#
# Kiln also supports environment variables with the KILN_ prefix:
#   KILN_LOGGING_LEVEL=debug
#   KILN_DATABASE_PATH=/custom/path/kiln.db

# =============================================================================
# Global Settings
# =============================================================================
global:
  # Where kiln stores runtime data (outcome archive, secrets)
  # Default: ~/.local/share/kiln
  # data_dir: ~/.local/share/kiln

  # Where config files are stored
  # Default: ~/.config/kiln
  # config_dir: ~/.config/kiln

# =============================================================================
# Database Settings
# =============================================================================
database:
  # SQLite database file path (empty = data_dir/kiln.db)
  # path: ""

  # How long to wait for a locked database (milliseconds)
  # Default: 5000
  # busy_timeout_ms: 5000

  # Drop archived outcomes older than this many days at startup
  # (0 disables trimming)
  # Default: 90
  # retention_days: 90

# =============================================================================
# Logging Settings
# =============================================================================
logging:
  # Minimum log level: debug, info, warn, error
  # Default: info
  # level: info

  # Output format: console, json
  # Default: console
  # format: console

  # Optional log file path (empty = stderr only)
  # file: ""

  # Add caller information (file:line) to logs
  # Default: false
  # enable_caller: false

# =============================================================================
# Pool Settings
# =============================================================================
pool:
  # Endpoints probed during discovery
  # Default: http://localhost:11434
  # endpoints:
  #   - http://localhost:11434

  # Timeout for a single endpoint probe
  # Default: 5s
  # probe_timeout: 5s

  # Optional TOML file with tier/role pins, merged under the models
  # section below (config wins). 'kiln pool set-role' writes here.
  # Default: config_dir/models.toml
  # model_map_file: ""

# =============================================================================
# Scoring Settings
# =============================================================================
scoring:
  # How many outcomes the in-memory store keeps (oldest evicted first)
  # Default: 1000
  # capacity: 1000

  # Exponential decay rate per day of outcome age (0.0231 = 30-day
  # half-life)
  # Default: 0.0231
  # decay_per_day: 0.0231

  # Composite score weights; they must sum to 1
  # quality_weight: 0.35
  # success_weight: 0.25
  # speed_weight: 0.15
  # error_weight: 0.15
  # refinement_weight: 0.10

  # Sample count at which confidence reaches 1
  # Default: 10
  # confidence_saturation: 10

  # Tier recommendation thresholds
  # upgrade_below: 0.4
  # upgrade_min_confidence: 0.5
  # downgrade_above: 0.6
  # downgrade_min_confidence: 0.3

# =============================================================================
# Parser Settings
# =============================================================================
parser:
  # Hard cap on raw completion size before parsing (bytes)
  # Default: 262144 (256 KiB)
  # max_input_bytes: 262144

# =============================================================================
# LLM Executor Settings
# =============================================================================
llm:
  # Wire protocol: ollama (native /api/generate) or openai
  # (/v1/chat/completions)
  # Default: ollama
  # provider: ollama

  # Timeout for a single generation request attempt
  # Default: 120s
  # request_timeout: 120s

  # Retry budget per request (transport failures, 5xx, 429)
  # Default: 3
  # max_attempts: 3

  # Pause between attempts
  # Default: 2s
  # retry_delay: 2s

  # API key reference for openai-compatible endpoints:
  #   vault:NAME  - secret from 'kiln vault'
  #   env:NAME    - environment variable
  #   anything    - used literally
  # api_key_ref: ""

# =============================================================================
# Model Pins
# =============================================================================
# Pin tiers and roles for specific models. Names may include the :tag
# suffix or omit it. Unpinned models get a tier inferred from their name
# and parameter count, and the role "any".
#
# models:
#   "qwen2.5-coder:7b":
#     tier: fast
#     role: builder
#   "llama3.3:70b":
#     tier: powerful
#     role: planner
`
