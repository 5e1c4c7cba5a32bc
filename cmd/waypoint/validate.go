package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [agent.yaml]",
	Short: "Check the agent definition for consistency",
	Long: `Compiles the definition and reports unknown route targets, undeclared tools,
broken flow groups and invalid runtime settings.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := loadBundle(cmd, args)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Agent %q is valid: %d steps, %d tools, %d flows\n",
			b.Name, len(b.Graph.Steps()), len(b.Tools.Tools()), len(b.Graph.Flows()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
