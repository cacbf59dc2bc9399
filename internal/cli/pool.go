// Package cli provides model pool commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jberon/kiln/internal/models"
	"github.com/jberon/kiln/internal/pool"
)

const poolWatchInterval = 2 * time.Second

var (
	poolStatusWatch  bool
	poolExportOutput string
)

func init() {
	rootCmd.AddCommand(poolCmd)
	poolCmd.AddCommand(poolStatusCmd)
	poolCmd.AddCommand(poolSetRoleCmd)
	poolCmd.AddCommand(poolExportCmd)

	poolStatusCmd.Flags().BoolVar(&poolStatusWatch, "watch", false, "refresh continuously (requires --jsonl)")
	poolExportCmd.Flags().StringVarP(&poolExportOutput, "output", "o", "", "write to file instead of stdout")
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect and shape the model pool",
	Long:  "Inspect the model pool, pin models to roles, and export the roster.",
}

var poolStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pool status",
	Long:  "Probe the endpoints and show the roster: slot counts, role breakdown, per-model aggregates.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if poolStatusWatch && !IsJSONLOutput() {
			return fmt.Errorf("--watch requires --jsonl output")
		}

		mapping, err := newModelMap()
		if err != nil {
			return err
		}
		svc := newPoolService(nil, mapping)

		if poolStatusWatch {
			return streamPoolStatus(cmd.Context(), svc)
		}

		if _, err := svc.Discover(cmd.Context()); err != nil {
			return err
		}
		status := buildPoolStatus(svc)

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, status)
		}
		return writePoolStatusHuman(status)
	},
}

type PoolStatus struct {
	Timestamp time.Time  `json:"timestamp"`
	Stats     pool.Stats `json:"stats"`
}

func buildPoolStatus(svc *pool.Service) *PoolStatus {
	return &PoolStatus{
		Timestamp: nowFunc().UTC(),
		Stats:     svc.Stats(),
	}
}

func streamPoolStatus(ctx context.Context, svc *pool.Service) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(poolWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := svc.Discover(ctx); err != nil {
				return err
			}
			if err := WriteOutput(os.Stdout, buildPoolStatus(svc)); err != nil {
				return err
			}
		}
	}
}

func writePoolStatusHuman(status *PoolStatus) error {
	stats := status.Stats

	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(writer, "Timestamp:\t%s\n", status.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(writer, "Slots:\t%d (busy %d, idle %d)\n", stats.TotalSlots, stats.BusySlots, stats.IdleSlots)
	for _, role := range []models.Role{models.RolePlanner, models.RoleBuilder, models.RoleReviewer, models.RoleAny} {
		if n := stats.ByRole[role]; n > 0 {
			fmt.Fprintf(writer, "  %s:\t%d\n", role, n)
		}
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	if len(stats.Models) == 0 {
		fmt.Println("\nNo models in the pool. Is an endpoint running?")
		return nil
	}

	fmt.Println()
	rows := make([][]string, 0, len(stats.Models))
	for _, m := range stats.Models {
		rows = append(rows, []string{
			m.Model,
			fmt.Sprintf("%d", m.Slots),
			fmt.Sprintf("%d", m.Busy),
			fmt.Sprintf("%d", m.CompletedTasks),
			fmt.Sprintf("%d", m.TotalTokens),
			formatLatency(m.AvgLatency),
		})
	}
	return writeTable(os.Stdout, []string{"MODEL", "SLOTS", "BUSY", "COMPLETED", "TOKENS", "AVG LATENCY"}, rows)
}

var poolSetRoleCmd = &cobra.Command{
	Use:   "set-role <model> <role>",
	Short: "Pin a model to a role",
	Long:  "Pin a model to a build role (planner, builder, reviewer, any). The pin persists in the model map file and applies at the next discovery.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		model := args[0]
		role := models.Role(args[1])
		if !role.Valid() {
			return fmt.Errorf("invalid role %q (valid: planner, builder, reviewer, any)", args[1])
		}

		// Mapping as it stood before the pin, for the live check below.
		mapping, err := newModelMap()
		if err != nil {
			return err
		}

		path := modelMapPath()
		entries, err := pool.LoadModelMapEntries(path)
		if errors.Is(err, os.ErrNotExist) {
			entries = make(map[string]pool.ModelMapping)
		} else if err != nil {
			return err
		}
		entry := entries[model]
		entry.Role = role
		entries[model] = entry
		if err := pool.SaveModelMapEntries(path, entries); err != nil {
			return err
		}

		if e, ok := appConfig.Models[model]; ok && e.Role != "" && e.Role != role {
			fmt.Fprintf(os.Stderr, "Warning: config file pins %s to %s, which overrides the model map\n", model, e.Role)
		}

		fmt.Printf("Pinned %s to role %s (%s)\n", model, colorize(string(role), colorCyan), path)

		// Best-effort live check: is the model actually served right now?
		svc := newPoolService(nil, mapping)
		if _, derr := svc.Discover(cmd.Context()); derr != nil {
			return nil
		}
		if serr := svc.SetRole(model, role); serr != nil {
			if errors.Is(serr, pool.ErrUnknownModel) {
				fmt.Fprintf(os.Stderr, "Warning: no endpoint currently serves %s\n", model)
				return nil
			}
			return serr
		}

		n := 0
		for _, slot := range svc.Snapshot() {
			if slot.Model == model {
				n++
			}
		}
		fmt.Printf("%d live slot(s) serve %s\n", n, model)
		return nil
	},
}

var poolExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the roster",
	Long:  "Probe the endpoints and export the roster as YAML (or JSON with --json), for automation or reporting.",
	RunE: func(cmd *cobra.Command, args []string) error {
		mapping, err := newModelMap()
		if err != nil {
			return err
		}
		svc := newPoolService(nil, mapping)
		if _, err := svc.Discover(cmd.Context()); err != nil {
			return err
		}

		export := buildPoolExport(svc, mapping)

		out := os.Stdout
		if poolExportOutput != "" {
			file, err := os.Create(poolExportOutput)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			defer file.Close()
			out = file
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(out, export)
		}

		data, err := yaml.Marshal(export)
		if err != nil {
			return fmt.Errorf("encode roster: %w", err)
		}
		_, err = out.Write(data)
		return err
	},
}

type PoolExport struct {
	ExportedAt time.Time        `json:"exported_at" yaml:"exported_at"`
	Endpoints  []string         `json:"endpoints" yaml:"endpoints"`
	Slots      []PoolExportSlot `json:"slots" yaml:"slots"`
}

type PoolExportSlot struct {
	Model          string `json:"model" yaml:"model"`
	Endpoint       string `json:"endpoint" yaml:"endpoint"`
	Tier           string `json:"tier" yaml:"tier"`
	Role           string `json:"role" yaml:"role"`
	CompletedTasks int    `json:"completed_tasks" yaml:"completed_tasks"`
}

func buildPoolExport(svc *pool.Service, mapping *pool.ModelMap) *PoolExport {
	export := &PoolExport{
		ExportedAt: nowFunc().UTC(),
		Endpoints:  appConfig.Pool.Endpoints,
	}
	for _, slot := range svc.Snapshot() {
		export.Slots = append(export.Slots, PoolExportSlot{
			Model:          slot.Model,
			Endpoint:       slot.Endpoint,
			Tier:           string(mapping.TierOf(slot.Model)),
			Role:           string(slot.Role),
			CompletedTasks: slot.CompletedTasks,
		})
	}
	return export
}
