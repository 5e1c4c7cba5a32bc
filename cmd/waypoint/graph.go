package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/waypoint"
	"github.com/aretw0/waypoint/internal/presentation/graph"
)

var graphCmd = &cobra.Command{
	Use:   "graph [agent.yaml]",
	Short: "Export the step graph visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of the steps, routes and flow groups.
With --session the steps visited by that session are highlighted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := loadBundle(cmd, args)
		if err != nil {
			return err
		}

		var overlay *graph.Overlay
		if sessionID, _ := cmd.Flags().GetString("session"); sessionID != "" {
			store, closer, err := waypoint.OpenStore(cmd.Context(), b)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}
			s, err := store.Load(cmd.Context(), sessionID)
			if err != nil {
				return fmt.Errorf("failed to load session '%s': %w", sessionID, err)
			}
			overlay = graph.OverlayFor(s)
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(b.Graph.Start(), b.Graph.Steps(), b.Graph.Flows(), overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("session", "", "Highlight the path of this session")
}
