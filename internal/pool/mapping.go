package pool

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jberon/kiln/internal/models"
)

// ModelMapping pins one model name to a tier and a role. Zero fields
// fall through to inference.
type ModelMapping struct {
	// Tier overrides name-based tier inference.
	Tier models.ModelTier

	// Role pins the model's slots to a role. Empty means any.
	Role models.Role
}

// ModelMap resolves model names to tiers and roles. Explicit entries
// win; unknown names fall back to parameter-size and name hints, so a
// roster works out of the box and the table only has to cover the
// exceptions.
type ModelMap struct {
	entries map[string]ModelMapping
}

// NewModelMap builds a map from explicit entries, keyed by model name
// (with or without the ":tag" suffix). A nil table is fine.
func NewModelMap(entries map[string]ModelMapping) *ModelMap {
	m := &ModelMap{entries: make(map[string]ModelMapping, len(entries))}
	for name, e := range entries {
		m.entries[strings.ToLower(name)] = e
	}
	return m
}

// lookup tries the full lowercased name, then the name without its tag.
func (m *ModelMap) lookup(model string) (ModelMapping, bool) {
	name := strings.ToLower(model)
	if e, ok := m.entries[name]; ok {
		return e, true
	}
	if base, _, found := strings.Cut(name, ":"); found {
		if e, ok := m.entries[base]; ok {
			return e, true
		}
	}
	return ModelMapping{}, false
}

// TierOf resolves the tier for a model name.
func (m *ModelMap) TierOf(model string) models.ModelTier {
	if e, ok := m.lookup(model); ok && e.Tier != "" {
		return e.Tier
	}
	return inferTier(strings.ToLower(model))
}

// RoleOf resolves the role slots of this model start with. Defaults to
// any unless the table pins one.
func (m *ModelMap) RoleOf(model string) models.Role {
	if e, ok := m.lookup(model); ok && e.Role != "" {
		return e.Role
	}
	return models.RoleAny
}

var (
	fastHints     = []string{"mini", "small", "haiku", "fast", "tiny"}
	powerfulHints = []string{"opus", "large"}

	// parameter count like "7b", "1.5b", "70B"
	paramSizeRe = regexp.MustCompile(`(\d+(?:\.\d+)?)[bB]\b`)
)

// inferTier guesses a tier from the model name: word hints first, then
// the parameter count when the name carries one, else balanced.
func inferTier(name string) models.ModelTier {
	for _, hint := range fastHints {
		if strings.Contains(name, hint) {
			return models.TierFast
		}
	}
	for _, hint := range powerfulHints {
		if strings.Contains(name, hint) {
			return models.TierPowerful
		}
	}
	if m := paramSizeRe.FindStringSubmatch(name); m != nil {
		size, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			switch {
			case size <= 8:
				return models.TierFast
			case size >= 70:
				return models.TierPowerful
			}
		}
	}
	return models.TierBalanced
}
