// Package graph renders step graphs as Mermaid flowcharts.
package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/waypoint/pkg/domain"
)

// Overlay contains session state to highlight on the graph.
type Overlay struct {
	VisitedSteps []string
	CurrentStep  string
}

// OverlayFor builds an overlay from a session's history and current step.
func OverlayFor(s *domain.Session) *Overlay {
	o := &Overlay{CurrentStep: s.CurrentStepID}
	for _, e := range s.History {
		if e.StepID != "" {
			o.VisitedSteps = append(o.VisitedSteps, e.StepID)
		}
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart from steps and flow groups.
// Shapes:
// - Start: ((Circle))
// - Step with tools: [[Subroutine]]
// - Auto-flow step: [/Parallelogram/]
// - Default: [Rectangle]
// Flow groups become subgraphs. Overlay styles are applied when overlay is non-nil.
func GenerateMermaid(start string, steps []domain.Step, flows []domain.FlowGroup, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	grouped := make(map[string]bool)
	for _, f := range flows {
		fmt.Fprintf(&sb, "    subgraph %s[\"%s\"]\n", sanitizeMermaidID("flow_"+f.ID), f.ID)
		for _, id := range append(append([]string{}, f.Enters...), f.Exits...) {
			if grouped[id] {
				continue
			}
			grouped[id] = true
			fmt.Fprintf(&sb, "        %s\n", sanitizeMermaidID(id))
		}
		sb.WriteString("    end\n")
	}

	for _, step := range steps {
		safeID := sanitizeMermaidID(step.ID)

		opener, closer := "[", "]"
		switch {
		case step.ID == start:
			opener, closer = "((", "))"
		case len(step.AvailableTools) > 0:
			opener, closer = "[[", "]]"
		case step.AutoFlow:
			opener, closer = "[/", "/]"
		}

		label := step.ID
		if len(step.AvailableTools) > 0 {
			label = fmt.Sprintf("%s <br/> %s", step.ID, strings.Join(step.AvailableTools, ", "))
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, label, closer)

		for _, r := range step.Routes {
			safeTo := sanitizeMermaidID(r.Target)
			arrow := "-->"
			if r.Condition != "" {
				arrow = fmt.Sprintf("-- \"%s\" -->", strings.ReplaceAll(r.Condition, "\"", "'"))
			}
			fmt.Fprintf(&sb, "    %s %s %s\n", safeID, arrow, safeTo)
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Black text keeps contrast on light fills in both themes.
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visited := make(map[string]bool)
		for _, id := range overlay.VisitedSteps {
			safeID := sanitizeMermaidID(id)
			if !visited[safeID] && safeID != "" {
				visited[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}
		if overlay.CurrentStep != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentStep))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
