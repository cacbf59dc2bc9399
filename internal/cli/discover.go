// Package cli provides model discovery commands.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jberon/kiln/internal/models"
	"github.com/jberon/kiln/internal/pool"
)

func init() {
	rootCmd.AddCommand(discoverCmd)
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Probe endpoints for served models",
	Long:  "Probe every configured endpoint and list the models it serves, with the tier and role each model maps to.",
	RunE: func(cmd *cobra.Command, args []string) error {
		mapping, err := newModelMap()
		if err != nil {
			return err
		}

		svc := newPoolService(nil, mapping)
		report, err := svc.Discover(cmd.Context())
		if err != nil {
			return err
		}

		view := buildDiscoveryView(svc, mapping, report)

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, view)
		}

		return writeDiscoveryHuman(view)
	},
}

type DiscoveryView struct {
	Timestamp time.Time             `json:"timestamp"`
	Endpoints []pool.EndpointResult `json:"endpoints"`
	Models    []DiscoveredModelView `json:"models,omitempty"`
}

type DiscoveredModelView struct {
	Model    string           `json:"model"`
	Endpoint string           `json:"endpoint"`
	Tier     models.ModelTier `json:"tier"`
	Role     models.Role      `json:"role"`
}

func buildDiscoveryView(svc *pool.Service, mapping *pool.ModelMap, report pool.DiscoveryReport) *DiscoveryView {
	view := &DiscoveryView{
		Timestamp: nowFunc().UTC(),
		Endpoints: report.Endpoints,
	}
	for _, slot := range svc.Snapshot() {
		view.Models = append(view.Models, DiscoveredModelView{
			Model:    slot.Model,
			Endpoint: slot.Endpoint,
			Tier:     mapping.TierOf(slot.Model),
			Role:     slot.Role,
		})
	}
	return view
}

func writeDiscoveryHuman(view *DiscoveryView) error {
	endpointRows := make([][]string, 0, len(view.Endpoints))
	for _, ep := range view.Endpoints {
		status := colorize("ok", colorGreen)
		if ep.Err != "" {
			status = colorize(ep.Err, colorRed)
		}
		endpointRows = append(endpointRows, []string{
			ep.Endpoint,
			fmt.Sprintf("%d", ep.Models),
			fmt.Sprintf("%d", ep.Loaded),
			status,
		})
	}
	if err := writeTable(os.Stdout, []string{"ENDPOINT", "MODELS", "LOADED", "STATUS"}, endpointRows); err != nil {
		return err
	}

	if len(view.Models) == 0 {
		fmt.Println("\nNo models discovered.")
		return nil
	}

	fmt.Println()
	modelRows := make([][]string, 0, len(view.Models))
	for _, m := range view.Models {
		modelRows = append(modelRows, []string{
			m.Model,
			m.Endpoint,
			string(m.Tier),
			string(m.Role),
		})
	}
	return writeTable(os.Stdout, []string{"MODEL", "ENDPOINT", "TIER", "ROLE"}, modelRows)
}
