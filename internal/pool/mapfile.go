package pool

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/jberon/kiln/internal/models"
)

// mapFile is the on-disk shape of a model map:
//
//	[models."qwen2.5-coder:7b"]
//	tier = "fast"
//	role = "builder"
type mapFile struct {
	Models map[string]mapFileEntry `toml:"models"`
}

type mapFileEntry struct {
	Tier string `toml:"tier"`
	Role string `toml:"role"`
}

// LoadModelMapEntries reads tier/role pins from a TOML file. Unknown
// keys, tiers, or roles are errors; an empty models table is fine.
func LoadModelMapEntries(path string) (map[string]ModelMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model map %s: %w", path, err)
	}

	var f mapFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse model map %s: %w", path, err)
	}

	entries := make(map[string]ModelMapping, len(f.Models))
	for name, e := range f.Models {
		mapping := ModelMapping{
			Tier: models.ModelTier(e.Tier),
			Role: models.Role(e.Role),
		}
		if mapping.Tier != "" && !mapping.Tier.Valid() {
			return nil, fmt.Errorf("model map %s: %s: unknown tier %q", path, name, e.Tier)
		}
		if mapping.Role != "" && !mapping.Role.Valid() {
			return nil, fmt.Errorf("model map %s: %s: unknown role %q", path, name, e.Role)
		}
		entries[name] = mapping
	}
	return entries, nil
}

// SaveModelMapEntries writes tier/role pins to a TOML file, creating
// parent directories as needed.
func SaveModelMapEntries(path string, entries map[string]ModelMapping) error {
	f := mapFile{Models: make(map[string]mapFileEntry, len(entries))}
	for name, e := range entries {
		f.Models[name] = mapFileEntry{Tier: string(e.Tier), Role: string(e.Role)}
	}

	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode model map: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create model map directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write model map %s: %w", path, err)
	}
	return nil
}
