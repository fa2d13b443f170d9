package mcp

import (
	"fmt"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// RenderToolList formats the filtered catalog for embedding into a system
// prompt via the {{tool_list}} template variable.
func RenderToolList(tools []mcptypes.Tool) string {
	if len(tools) == 0 {
		return "No tools are available."
	}

	var b strings.Builder
	for _, tool := range tools {
		desc := strings.TrimSpace(tool.Description)
		if desc == "" {
			fmt.Fprintf(&b, "- %s\n", tool.Name)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name, desc)
	}
	return strings.TrimRight(b.String(), "\n")
}
