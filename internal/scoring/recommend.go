package scoring

import (
	"fmt"

	"github.com/jberon/kiln/internal/models"
)

// tierAbove returns the next tier up, or "" from the top.
func tierAbove(t models.ModelTier) models.ModelTier {
	switch t {
	case models.TierFast:
		return models.TierBalanced
	case models.TierBalanced:
		return models.TierPowerful
	}
	return ""
}

// tiersBelow lists strictly cheaper tiers, cheapest first.
func tiersBelow(t models.ModelTier) []models.ModelTier {
	switch t {
	case models.TierPowerful:
		return []models.ModelTier{models.TierFast, models.TierBalanced}
	case models.TierBalanced:
		return []models.ModelTier{models.TierFast}
	}
	return nil
}

// Recommend says whether a model should keep its tier for a task type,
// move up because it is confidently underperforming, or hand the task
// to a confidently adequate cheaper tier. It never suggests both
// directions; without enough evidence it keeps.
func (s *Service) Recommend(model string, task models.TaskType) models.Recommendation {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := models.Recommendation{
		Model:    model,
		TaskType: task,
		Action:   models.ActionKeep,
	}

	current := models.TierBalanced
	if s.tiers != nil {
		current = s.tiers.TierOf(model)
	}
	rec.CurrentTier = current

	entry, ok := s.scores[pairKey{model, task}]
	if !ok {
		rec.Reason = "no recorded outcomes for this task type"
		return rec
	}

	if entry.WeightedScore < s.cfg.UpgradeBelow && entry.Confidence > s.cfg.UpgradeMinConfidence {
		if up := tierAbove(current); up != "" {
			rec.Action = models.ActionUpgrade
			rec.SuggestedTier = up
			rec.Reason = fmt.Sprintf(
				"score %.2f below %.2f with confidence %.2f; a stronger tier should take over",
				entry.WeightedScore, s.cfg.UpgradeBelow, entry.Confidence)
			return rec
		}
		rec.Reason = fmt.Sprintf(
			"score %.2f below %.2f but no stronger tier exists",
			entry.WeightedScore, s.cfg.UpgradeBelow)
		return rec
	}

	for _, tier := range tiersBelow(current) {
		cheaper, ok := s.bestInTier(tier, task)
		if !ok {
			continue
		}
		if cheaper.WeightedScore > s.cfg.DowngradeAbove && cheaper.Confidence > s.cfg.DowngradeMinConfidence {
			rec.Action = models.ActionDowngrade
			rec.SuggestedTier = tier
			rec.Reason = fmt.Sprintf(
				"%s scores %.2f on the %s tier with confidence %.2f; the cheaper tier is adequate",
				cheaper.Model, cheaper.WeightedScore, tier, cheaper.Confidence)
			return rec
		}
	}

	rec.Reason = "current tier is holding up"
	return rec
}

// bestInTier finds the strongest aggregate among models of a tier for
// one task type. Callers hold s.mu.
func (s *Service) bestInTier(tier models.ModelTier, task models.TaskType) (*models.ModelScore, bool) {
	if s.tiers == nil {
		return nil, false
	}
	var best *models.ModelScore
	for key, entry := range s.scores {
		if key.task != task || s.tiers.TierOf(key.model) != tier {
			continue
		}
		if best == nil || entry.WeightedScore > best.WeightedScore {
			best = entry
		}
	}
	return best, best != nil
}
