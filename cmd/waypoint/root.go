package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/waypoint"
	"github.com/aretw0/waypoint/internal/logging"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/loader"
)

var rootCmd = &cobra.Command{
	Use:   "waypoint",
	Short: "Waypoint runs configuration-driven conversational agents",
	Long: `Waypoint loads an agent definition (steps, routes, tools, flows) from YAML
and runs conversations against it, letting an LLM decide within the contract of each step.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("agent", "a", "agent.yaml", "Path to the agent definition")
	rootCmd.PersistentFlags().Bool("debug", false, "Log engine events at debug level")
}

// agentPath returns the first positional argument or the --agent flag.
func agentPath(cmd *cobra.Command, args []string) string {
	if len(args) > 0 && !cmd.Flags().Changed("agent") {
		return args[0]
	}
	path, _ := cmd.Flags().GetString("agent")
	return path
}

func loadBundle(cmd *cobra.Command, args []string) (*loader.Bundle, error) {
	b, err := loader.Load(agentPath(cmd, args))
	if err != nil {
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}
	return b, nil
}

// newLogger builds the logger from the runtime config, forcing debug with --debug.
func newLogger(cmd *cobra.Command, b *loader.Bundle) (*slog.Logger, error) {
	level, err := logging.ParseLevel(b.Config.LogLevel)
	if err != nil {
		return nil, err
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = slog.LevelDebug
	}
	return logging.NewWithFormat(cmd.ErrOrStderr(), level, b.Config.LogFormat), nil
}

func agentOptions(cmd *cobra.Command, logger *slog.Logger) []waypoint.Option {
	opts := []waypoint.Option{waypoint.WithLogger(logger)}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		opts = append(opts, waypoint.WithLifecycleHooks(debugHooks(logger)))
	}
	return opts
}

func debugHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepEnter: func(_ context.Context, e *domain.StepEvent) {
			logger.Debug("Enter Step", "session_id", e.SessionID, "step_id", e.StepID, "flow_id", e.FlowID)
		},
		OnStepLeave: func(_ context.Context, e *domain.StepEvent) {
			logger.Debug("Leave Step", "session_id", e.SessionID, "step_id", e.StepID)
		},
		OnDecision: func(_ context.Context, e *domain.DecisionEvent) {
			logger.Debug("Decision", "session_id", e.SessionID, "step_id", e.StepID, "action", e.Action)
		},
		OnToolReturn: func(_ context.Context, e *domain.ToolEvent) {
			if e.IsError {
				logger.Debug("Tool Return (Error)", "tool_name", e.ToolName, "err", e.Output)
			} else {
				logger.Debug("Tool Return (Success)", "tool_name", e.ToolName, "duration", e.Duration)
			}
		},
		OnValidationError: func(_ context.Context, e *domain.ErrorEvent) {
			logger.Debug("Rejected Decision", "step_id", e.StepID, "consecutive", e.ConsecutiveErrors, "err", e.Err)
		},
	}
}
