package pool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jberon/kiln/internal/models"
)

func TestModelMap_TierOf(t *testing.T) {
	m := NewModelMap(map[string]ModelMapping{
		"qwen2.5-coder":  {Tier: models.TierBalanced},
		"Weird-Name:32b": {Tier: models.TierPowerful},
	})

	tests := []struct {
		model string
		want  models.ModelTier
	}{
		// explicit entries win, tag stripped or not, case folded
		{"qwen2.5-coder:7b", models.TierBalanced},
		{"QWEN2.5-CODER:32B", models.TierBalanced},
		{"weird-name:32b", models.TierPowerful},

		// parameter-size inference
		{"llama3.2:3b", models.TierFast},
		{"mistral:7b", models.TierFast},
		{"deepseek-r1:8b", models.TierFast},
		{"qwen2.5:14b", models.TierBalanced},
		{"codestral:22b", models.TierBalanced},
		{"llama3.3:70b", models.TierPowerful},
		{"llama3.1:405b", models.TierPowerful},

		// word hints
		{"gpt-4o-mini", models.TierFast},
		{"claude-3-haiku", models.TierFast},
		{"claude-3-opus", models.TierPowerful},
		{"mistral-large", models.TierPowerful},

		// nothing to go on
		{"mystery-model", models.TierBalanced},
		{"gpt-4o", models.TierBalanced},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, m.TierOf(tt.model))
		})
	}
}

func TestModelMap_RoleOf(t *testing.T) {
	m := NewModelMap(map[string]ModelMapping{
		"deepseek-r1": {Role: models.RolePlanner},
		"qwen2.5-coder:7b": {
			Tier: models.TierFast,
			Role: models.RoleBuilder,
		},
	})

	assert.Equal(t, models.RolePlanner, m.RoleOf("deepseek-r1:8b"))
	assert.Equal(t, models.RoleBuilder, m.RoleOf("qwen2.5-coder:7b"))
	assert.Equal(t, models.RoleAny, m.RoleOf("llama3.2:3b"), "unpinned models default to any")
}

func TestModelMap_NilTable(t *testing.T) {
	m := NewModelMap(nil)
	assert.Equal(t, models.TierFast, m.TierOf("phi3:3.8b"))
	assert.Equal(t, models.RoleAny, m.RoleOf("phi3:3.8b"))
}

func writeMapFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadModelMapEntries(t *testing.T) {
	path := writeMapFile(t, `
[models."llama3.3:70b"]
tier = "powerful"
role = "planner"

[models."qwen2.5-coder"]
tier = "fast"
`)

	entries, err := LoadModelMapEntries(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, ModelMapping{Tier: models.TierPowerful, Role: models.RolePlanner}, entries["llama3.3:70b"])
	assert.Equal(t, ModelMapping{Tier: models.TierFast}, entries["qwen2.5-coder"])

	m := NewModelMap(entries)
	assert.Equal(t, models.TierPowerful, m.TierOf("llama3.3:70b"))
	assert.Equal(t, models.TierFast, m.TierOf("qwen2.5-coder:32b"))
}

func TestLoadModelMapEntries_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown tier", "[models.m]\ntier = \"huge\"\n"},
		{"unknown role", "[models.m]\nrole = \"juggler\"\n"},
		{"unknown key", "[models.m]\nspeed = 3\n"},
		{"not toml", "models: {}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadModelMapEntries(writeMapFile(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadModelMapEntries(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
