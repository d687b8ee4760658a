// Package graph renders process definitions as Mermaid flowcharts, for
// the CLI and the diagram endpoint of the HTTP server.
package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/sluice/pkg/domain"
)

// GraphOverlay contains dynamic state to visualize on the diagram.
type GraphOverlay struct {
	// ActiveNodes are the nodes currently holding a token.
	ActiveNodes []string
}

// GenerateMermaid produces Mermaid flowchart syntax for a definition.
// Node shapes follow the node kind:
//   - Start event: ((Circle))
//   - End event: (((Double circle)))
//   - Intermediate event: ([Stadium])
//   - Service task: [[Subroutine]]
//   - User task: [/Parallelogram/]
//   - Exclusive gateway: {Diamond}
//   - Parallel gateway: {{Hexagon}}
//
// Conditioned and default flows carry their condition as the edge label.
// Overlay nodes are highlighted, marking where tokens currently sit.
func GenerateMermaid(def *domain.ProcessDefinition, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, node := range def.Nodes() {
		safeID := sanitizeMermaidID(node.ID)

		opener, closer := "[", "]"
		switch node.Kind {
		case domain.KindStartEvent:
			opener, closer = "((", "))"
		case domain.KindEndEvent:
			opener, closer = "(((", ")))"
		case domain.KindIntermediateEvent:
			opener, closer = "([", "])"
		case domain.KindServiceTask:
			opener, closer = "[[", "]]"
		case domain.KindUserTask:
			opener, closer = "[/", "/]"
		case domain.KindExclusiveGateway:
			opener, closer = "{", "}"
		case domain.KindParallelGateway:
			opener, closer = "{{", "}}"
		}

		label := nodeLabel(node)
		if dur, ok := node.Property("duration"); ok {
			label = fmt.Sprintf("%s <br/> ⏱️ %v", label, dur)
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, label, closer))

		for _, edge := range def.Outgoing(node.ID) {
			safeTo := sanitizeMermaidID(edge.TargetID)

			arrow := "-->"
			switch {
			case edge.Condition != "":
				// Escape double quotes for the Mermaid label
				safeCondition := strings.ReplaceAll(edge.Condition, "\"", "'")
				arrow = fmt.Sprintf("-- \"%s\" -->", safeCondition)
			case edge.Default:
				arrow = "-- \"default\" -->"
			}
			sb.WriteString(fmt.Sprintf("    %s %s %s\n", safeID, arrow, safeTo))
		}
	}

	if overlay != nil && len(overlay.ActiveNodes) > 0 {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text for high contrast regardless of theme.
		sb.WriteString("    classDef active fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, id := range overlay.ActiveNodes {
			safeID := sanitizeMermaidID(id)
			if safeID == "" || seen[safeID] {
				continue
			}
			seen[safeID] = true
			sb.WriteString(fmt.Sprintf("    class %s active;\n", safeID))
		}
	}

	return sb.String()
}

func nodeLabel(node *domain.Node) string {
	if node.Name != "" {
		return node.Name
	}
	return node.ID
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
