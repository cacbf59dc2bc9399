// Package cli provides model scoring commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jberon/kiln/internal/models"
)

var (
	scoreTask  string
	scoreModel string
)

func init() {
	rootCmd.AddCommand(scoreCmd)

	scoreCmd.Flags().StringVar(&scoreTask, "task", "", "filter by task type")
	scoreCmd.Flags().StringVar(&scoreModel, "model", "", "filter by model name")
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Show learned model scores",
	Long:  "Show the learned score aggregates per model and task type, computed from the outcome archive.",
	RunE: func(cmd *cobra.Command, args []string) error {
		taskType, err := parseTaskType(scoreTask)
		if err != nil {
			return err
		}

		scorer, err := newSeededScorer(cmd.Context())
		if err != nil {
			return err
		}

		views := make([]ScoreView, 0)
		for _, score := range scorer.Snapshot() {
			if taskType != "" && score.TaskType != taskType {
				continue
			}
			if scoreModel != "" && score.Model != scoreModel {
				continue
			}
			views = append(views, ScoreView{
				ModelScore: score,
				Effective:  score.EffectiveScore(),
			})
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, views)
		}

		return writeScoresHuman(views)
	},
}

// ScoreView is a score aggregate with the confidence-shrunk effective
// score ranking actually uses.
type ScoreView struct {
	models.ModelScore
	Effective float64 `json:"effective_score"`
}

func writeScoresHuman(views []ScoreView) error {
	if len(views) == 0 {
		fmt.Println("No scores yet. Outcomes accumulate as builds run.")
		return nil
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			v.Model,
			string(v.TaskType),
			fmt.Sprintf("%d", v.SampleCount),
			fmt.Sprintf("%.1f", v.AvgQuality),
			fmt.Sprintf("%.0f%%", v.SuccessRate*100),
			fmt.Sprintf("%.2f", v.WeightedScore),
			fmt.Sprintf("%.2f", v.Effective),
			fmt.Sprintf("%.2f", v.Confidence),
		})
	}
	return writeTable(os.Stdout, []string{"MODEL", "TASK", "SAMPLES", "QUALITY", "SUCCESS", "SCORE", "EFFECTIVE", "CONFIDENCE"}, rows)
}
