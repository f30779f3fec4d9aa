package memtools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/turnloop/internal/memory"
)

// StatsTool handles the mem_stats MCP tool.
type StatsTool struct {
	store *memory.Store
}

// NewStatsTool creates a StatsTool with the given memory store.
func NewStatsTool(store *memory.Store) *StatsTool {
	return &StatsTool{store: store}
}

// Definition returns the MCP tool definition for mem_stats.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_stats",
		mcp.WithDescription(
			"Show document store statistics: documents by scope and content type, expired documents, and archived turns.",
		),
	)
}

// Handle processes the mem_stats tool call.
func (t *StatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := t.store.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get stats: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("## Memory Statistics\n\n")
	sb.WriteString(fmt.Sprintf("- **Documents**: %d (%d expired)\n", stats.Documents, stats.Expired))
	sb.WriteString(fmt.Sprintf("- **By scope**: new %d, user %d, global %d\n",
		stats.ByScope[memory.ScopeNew], stats.ByScope[memory.ScopeUser], stats.ByScope[memory.ScopeGlobal]))

	if len(stats.ByContentType) > 0 {
		types := make([]string, 0, len(stats.ByContentType))
		for ct, n := range stats.ByContentType {
			types = append(types, fmt.Sprintf("%s %d", ct, n))
		}
		sort.Strings(types)
		sb.WriteString(fmt.Sprintf("- **By type**: %s\n", strings.Join(types, ", ")))
	} else {
		sb.WriteString("- **By type**: none\n")
	}
	sb.WriteString(fmt.Sprintf("- **Turns**: %d active, %d archived\n", stats.ActiveTurns, stats.ArchivedTurns))

	return mcp.NewToolResultText(sb.String()), nil
}
