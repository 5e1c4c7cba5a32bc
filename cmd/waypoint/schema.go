package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/waypoint/pkg/decision"
)

var schemaCmd = &cobra.Command{
	Use:   "schema <step-id>",
	Short: "Print the decision contract of a step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := loadBundle(cmd, nil)
		if err != nil {
			return err
		}
		step, err := b.Graph.Get(args[0])
		if err != nil {
			return err
		}
		tools, err := b.Graph.ToolsFor(step.ID)
		if err != nil {
			return err
		}
		sc := decision.Build(step, tools)

		var doc any = sc
		if openapi, _ := cmd.Flags().GetBool("openapi"); openapi {
			doc = sc.OpenAPI()
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode schema: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.Flags().Bool("openapi", false, "Print the contract as an OpenAPI schema")
}
