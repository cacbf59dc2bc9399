// Package cli provides build plan commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jberon/kiln/internal/plan"
)

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.AddCommand(planValidateCmd)
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Work with build plan files",
	Long:  "Validate and inspect TOML build plans before running them.",
}

var planValidateCmd = &cobra.Command{
	Use:   "validate <plan.toml>",
	Short: "Validate a plan file",
	Long:  "Parse and validate a plan file, reporting every problem found rather than stopping at the first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadValidPlan(args[0])
		if err != nil {
			return err
		}

		view := buildPlanView(p)

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, view)
		}
		return writePlanHuman(view)
	},
}

// loadValidPlan loads and validates a plan file. Validation problems
// come back as a *plan.ErrorList carrying every issue found.
func loadValidPlan(path string) (*plan.Plan, error) {
	p, err := plan.Load(path)
	if err != nil {
		return nil, err
	}
	p, err = plan.Validate(p)
	if err != nil {
		return nil, err
	}
	return p, nil
}

type PlanView struct {
	Source      string      `json:"source"`
	Project     string      `json:"project"`
	Description string      `json:"description,omitempty"`
	Prompt      string      `json:"prompt"`
	Steps       []plan.Step `json:"steps"`
}

func buildPlanView(p *plan.Plan) *PlanView {
	return &PlanView{
		Source:      p.Source,
		Project:     p.Project,
		Description: p.Description,
		Prompt:      p.Prompt,
		Steps:       p.Steps,
	}
}

func writePlanHuman(view *PlanView) error {
	fmt.Printf("Plan: %s\n", view.Source)
	fmt.Printf("Project: %s\n", view.Project)
	if view.Description != "" {
		fmt.Printf("Description: %s\n", view.Description)
	}
	fmt.Printf("Prompt: %s\n", truncateText(view.Prompt, 80))
	fmt.Println()

	rows := make([][]string, 0, len(view.Steps))
	for i, step := range view.Steps {
		category := step.Category
		if category == "" {
			category = "-"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			step.ID,
			category,
			truncateText(step.Description, 60),
		})
	}
	if err := writeTable(os.Stdout, []string{"#", "ID", "CATEGORY", "DESCRIPTION"}, rows); err != nil {
		return err
	}

	fmt.Printf("\n%s\n", colorize("Plan is valid.", colorGreen))
	return nil
}
