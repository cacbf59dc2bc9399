package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/jberon/kiln/internal/db"
	"github.com/jberon/kiln/internal/llm"
	"github.com/jberon/kiln/internal/models"
	"github.com/jberon/kiln/internal/pool"
	"github.com/jberon/kiln/internal/scoring"
	"github.com/jberon/kiln/internal/vault"
)

// nowFunc is the CLI clock, swappable in tests.
var nowFunc = time.Now

// modelMapPath is where role pins persist. An explicit
// pool.model_map_file wins; otherwise models.toml next to the config.
func modelMapPath() string {
	if appConfig.Pool.ModelMapFile != "" {
		return appConfig.Pool.ModelMapFile
	}
	return filepath.Join(appConfig.Global.ConfigDir, "models.toml")
}

// loadModelEntries merges the model map file with the models section of
// the config file. Config entries win on conflict. A missing map file
// is not an error; set-role creates it on first use.
func loadModelEntries() (map[string]pool.ModelMapping, error) {
	entries := make(map[string]pool.ModelMapping)

	fromFile, err := pool.LoadModelMapEntries(modelMapPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		for name, e := range fromFile {
			entries[name] = e
		}
	}

	for name, e := range appConfig.Models {
		entries[name] = pool.ModelMapping{Tier: e.Tier, Role: e.Role}
	}
	return entries, nil
}

func newModelMap() (*pool.ModelMap, error) {
	entries, err := loadModelEntries()
	if err != nil {
		return nil, err
	}
	return pool.NewModelMap(entries), nil
}

func newScoringService(mapping *pool.ModelMap) *scoring.Service {
	sc := appConfig.Scoring
	cfg := scoring.Config{
		Capacity:               sc.Capacity,
		DecayPerDay:            sc.DecayPerDay,
		QualityWeight:          sc.QualityWeight,
		SuccessWeight:          sc.SuccessWeight,
		SpeedWeight:            sc.SpeedWeight,
		ErrorWeight:            sc.ErrorWeight,
		RefinementWeight:       sc.RefinementWeight,
		ConfidenceSaturation:   sc.ConfidenceSaturation,
		UpgradeBelow:           sc.UpgradeBelow,
		UpgradeMinConfidence:   sc.UpgradeMinConfidence,
		DowngradeAbove:         sc.DowngradeAbove,
		DowngradeMinConfidence: sc.DowngradeMinConfidence,
	}

	opts := []scoring.Option{}
	if mapping != nil {
		opts = append(opts, scoring.WithTierResolver(mapping))
	}
	return scoring.New(cfg, opts...)
}

func newPoolService(scorer pool.Scorer, mapping *pool.ModelMap) *pool.Service {
	cfg := pool.Config{
		Endpoints:    appConfig.Pool.Endpoints,
		ProbeTimeout: appConfig.Pool.ProbeTimeout,
	}

	opts := []pool.Option{}
	if scorer != nil {
		opts = append(opts, pool.WithScorer(scorer))
	}
	if mapping != nil {
		opts = append(opts, pool.WithModelMap(mapping))
	}
	return pool.New(cfg, pool.NewHTTPProber(cfg.ProbeTimeout), opts...)
}

// newExecutor builds the generation client the build loop talks to.
func newExecutor() (llm.Client, error) {
	cfg := llm.Config{
		RequestTimeout: appConfig.LLM.RequestTimeout,
		MaxAttempts:    appConfig.LLM.MaxAttempts,
		RetryDelay:     appConfig.LLM.RetryDelay,
	}

	switch appConfig.LLM.Provider {
	case "", "ollama":
		return llm.NewOllamaClient(cfg), nil
	case "openai":
		key, err := resolveAPIKey(appConfig.LLM.APIKeyRef)
		if err != nil {
			return nil, fmt.Errorf("resolve API key: %w", err)
		}
		return llm.NewOpenAIClient(cfg, key), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", appConfig.LLM.Provider)
	}
}

// resolveAPIKey turns an llm.api_key_ref into a key. vault: refs unlock
// the secret store, env: refs read the environment, anything else is a
// literal. An empty ref means no key.
func resolveAPIKey(ref string) (string, error) {
	if ref == "" {
		return "", nil
	}

	v := openVault()
	if strings.HasPrefix(ref, "vault:") {
		if err := unlockVault(v); err != nil {
			return "", err
		}
		defer v.Lock()
	}
	return v.ResolveCredential(ref)
}

// openVault returns the secret store at its configured path, locked.
func openVault() *vault.Vault {
	return vault.New(vault.DefaultPath(appConfig.Global.DataDir))
}

// unlockVault unlocks the store, taking the password from
// KILN_VAULT_PASSWORD or an interactive prompt.
func unlockVault(v *vault.Vault) error {
	if !v.IsInitialized() {
		return vault.ErrNotInitialized
	}

	password, err := vaultPassword("Vault password: ")
	if err != nil {
		return err
	}
	return v.Unlock(password)
}

// vaultPassword reads the vault password from the environment when set,
// else prompts on stderr without echo.
func vaultPassword(prompt string) (string, error) {
	if password := os.Getenv("KILN_VAULT_PASSWORD"); password != "" {
		return password, nil
	}
	return promptSecret(prompt)
}

func promptSecret(prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(os.Stderr, prompt)
	}
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// seedScorer warm-starts a scorer from the archive's most recent
// outcomes, capped at the scorer's own capacity.
func seedScorer(ctx context.Context, scorer *scoring.Service, repo *db.OutcomeRepository) (int, error) {
	limit := appConfig.Scoring.Capacity
	stored, err := repo.ListRecent(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("load archived outcomes: %w", err)
	}
	if len(stored) == 0 {
		return 0, nil
	}

	// ListRecent is newest first; replay oldest first so eviction at
	// capacity drops the oldest outcomes, not the newest.
	outcomes := make([]models.GenerationOutcome, len(stored))
	for i, o := range stored {
		outcomes[len(stored)-1-i] = *o
	}
	return scorer.Seed(outcomes)
}

// newSeededScorer builds a scorer warm-started from the archive. The
// database is only needed during seeding and is closed before return.
func newSeededScorer(ctx context.Context) (*scoring.Service, error) {
	mapping, err := newModelMap()
	if err != nil {
		return nil, err
	}

	database, err := openDatabase()
	if err != nil {
		return nil, err
	}
	defer database.Close()

	scorer := newScoringService(mapping)
	n, err := seedScorer(ctx, scorer, db.NewOutcomeRepository(database))
	if err != nil {
		return nil, err
	}
	logger.Debug().Int("outcomes", n).Msg("scorer seeded from archive")
	return scorer, nil
}
