// Package cli provides tier recommendation commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jberon/kiln/internal/models"
)

var (
	recommendTask  string
	recommendModel string
	recommendAll   bool
)

func init() {
	rootCmd.AddCommand(recommendCmd)

	recommendCmd.Flags().StringVar(&recommendTask, "task", "", "filter by task type")
	recommendCmd.Flags().StringVar(&recommendModel, "model", "", "filter by model name")
	recommendCmd.Flags().BoolVar(&recommendAll, "all", false, "include keep recommendations")
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Suggest tier changes from learned scores",
	Long: `Suggest tier changes per model and task type: upgrade when a model is
confidently underperforming, downgrade when a cheaper tier is confidently
adequate. By default only actionable suggestions are shown; --all includes
keeps.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		taskType, err := parseTaskType(recommendTask)
		if err != nil {
			return err
		}

		scorer, err := newSeededScorer(cmd.Context())
		if err != nil {
			return err
		}

		recs := make([]models.Recommendation, 0)
		for _, score := range scorer.Snapshot() {
			if taskType != "" && score.TaskType != taskType {
				continue
			}
			if recommendModel != "" && score.Model != recommendModel {
				continue
			}
			rec := scorer.Recommend(score.Model, score.TaskType)
			if rec.Action == models.ActionKeep && !recommendAll {
				continue
			}
			recs = append(recs, rec)
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, recs)
		}

		return writeRecommendationsHuman(recs)
	},
}

func writeRecommendationsHuman(recs []models.Recommendation) error {
	if len(recs) == 0 {
		fmt.Println("Nothing to suggest. Every scored model is holding its tier (use --all to see keeps).")
		return nil
	}

	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		suggested := "-"
		if rec.SuggestedTier != "" {
			suggested = string(rec.SuggestedTier)
		}
		rows = append(rows, []string{
			rec.Model,
			string(rec.TaskType),
			string(rec.CurrentTier),
			colorizeAction(rec.Action),
			suggested,
			rec.Reason,
		})
	}
	return writeTable(os.Stdout, []string{"MODEL", "TASK", "TIER", "ACTION", "SUGGESTED", "REASON"}, rows)
}

func colorizeAction(action models.RecommendationAction) string {
	switch action {
	case models.ActionUpgrade:
		return colorize(string(action), colorYellow)
	case models.ActionDowngrade:
		return colorize(string(action), colorGreen)
	default:
		return string(action)
	}
}
