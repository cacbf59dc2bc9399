// Package cli provides outcome archive commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jberon/kiln/internal/db"
	"github.com/jberon/kiln/internal/models"
)

var (
	historyModel string
	historyTask  string
	historyLimit int
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)

	historyCmd.Flags().StringVar(&historyModel, "model", "", "filter by model name")
	historyCmd.Flags().StringVar(&historyTask, "task", "", "filter by task type")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum outcomes to show (0 = no limit)")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show archived generation outcomes",
	Long:  "Show archived generation outcomes, newest first, optionally filtered by model or task type.",
	RunE: func(cmd *cobra.Command, args []string) error {
		taskType, err := parseTaskType(historyTask)
		if err != nil {
			return err
		}

		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		repo := db.NewOutcomeRepository(database)
		outcomes, err := repo.List(cmd.Context(), historyModel, taskType, historyLimit)
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, outcomes)
		}

		return writeHistoryHuman(outcomes)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <outcome-id>",
	Short: "Show one archived outcome",
	Long:  "Show the full record of one archived outcome. The id may be a unique prefix.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		repo := db.NewOutcomeRepository(database)
		outcome, err := resolveOutcome(cmd.Context(), repo, args[0])
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, outcome)
		}

		return writeOutcomeHuman(outcome)
	},
}

// parseTaskType validates an optional task type flag value.
func parseTaskType(raw string) (models.TaskType, error) {
	if raw == "" {
		return "", nil
	}
	taskType := models.TaskType(strings.ToLower(strings.TrimSpace(raw)))
	if !taskType.Valid() {
		names := make([]string, 0, len(models.TaskTypes()))
		for _, t := range models.TaskTypes() {
			names = append(names, string(t))
		}
		return "", fmt.Errorf("invalid task type %q (valid: %s)", raw, strings.Join(names, ", "))
	}
	return taskType, nil
}

// resolveOutcome finds an outcome by full id or unique prefix, matching
// over the most recent entries.
func resolveOutcome(ctx context.Context, repo *db.OutcomeRepository, idOrPrefix string) (*models.GenerationOutcome, error) {
	outcome, err := repo.Get(ctx, idOrPrefix)
	if err == nil {
		return outcome, nil
	}
	if !errors.Is(err, db.ErrOutcomeNotFound) {
		return nil, err
	}

	recent, err := repo.ListRecent(ctx, 0)
	if err != nil {
		return nil, err
	}

	var matches []*models.GenerationOutcome
	for _, o := range recent {
		if strings.HasPrefix(o.ID, idOrPrefix) {
			matches = append(matches, o)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", db.ErrOutcomeNotFound, idOrPrefix)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, 0, len(matches))
		for _, o := range matches {
			ids = append(ids, shortID(o.ID))
		}
		return nil, fmt.Errorf("outcome id '%s' is ambiguous; matches: %s (use a longer prefix)", idOrPrefix, strings.Join(ids, ", "))
	}
}

func writeHistoryHuman(outcomes []*models.GenerationOutcome) error {
	if len(outcomes) == 0 {
		fmt.Println("No archived outcomes. Run a build first.")
		return nil
	}

	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		success := colorize("no", colorRed)
		if o.Success() {
			success = colorize("yes", colorGreen)
		}
		rows = append(rows, []string{
			shortID(o.ID),
			o.Model,
			string(o.TaskType),
			fmt.Sprintf("%d", o.QualityScore),
			formatLatency(o.Duration),
			fmt.Sprintf("%d", o.TokensUsed),
			success,
			o.Timestamp.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return writeTable(os.Stdout, []string{"ID", "MODEL", "TASK", "QUALITY", "DURATION", "TOKENS", "SUCCESS", "FINISHED"}, rows)
}

func writeOutcomeHuman(o *models.GenerationOutcome) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(writer, "ID:\t%s\n", o.ID)
	fmt.Fprintf(writer, "Model:\t%s\n", o.Model)
	fmt.Fprintf(writer, "Task type:\t%s\n", o.TaskType)
	if o.Tier != "" {
		fmt.Fprintf(writer, "Tier:\t%s\n", o.Tier)
	}
	fmt.Fprintf(writer, "Quality:\t%d\n", o.QualityScore)
	fmt.Fprintf(writer, "Duration:\t%s\n", formatLatency(o.Duration))
	fmt.Fprintf(writer, "Tokens:\t%d\n", o.TokensUsed)
	fmt.Fprintf(writer, "Tests passed:\t%s\n", formatTriState(o.TestsPassed))
	fmt.Fprintf(writer, "User accepted:\t%s\n", formatTriState(o.UserAccepted))
	fmt.Fprintf(writer, "Errors:\t%d\n", o.ErrorCount)
	fmt.Fprintf(writer, "Refinement rounds:\t%d\n", o.RefinementRounds)
	fmt.Fprintf(writer, "Success:\t%s\n", formatYesNo(o.Success()))
	fmt.Fprintf(writer, "Finished:\t%s\n", o.Timestamp.Local().Format(time.RFC3339))
	return writer.Flush()
}
