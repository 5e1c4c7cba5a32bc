package tools

import (
	"context"

	"github.com/aretw0/waypoint/pkg/domain"
)

// EchoTool is the definition of the builtin echo tool.
var EchoTool = domain.Tool{
	Name:        "echo",
	Description: "Returns the given text unchanged.",
	Parameters: []domain.Parameter{
		{Key: "text", Type: "string", Description: "Text to echo back.", Required: true},
	},
}

// Echo returns its text argument.
func Echo(_ context.Context, args map[string]any) (any, error) {
	return args["text"], nil
}

// Builtins maps builtin tool names to their definition and capability.
var Builtins = map[string]struct {
	Tool domain.Tool
	Fn   Capability
}{
	EchoTool.Name: {Tool: EchoTool, Fn: Echo},
}
