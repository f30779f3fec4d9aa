package memtools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/turnloop/internal/memory"
)

// GetTool handles the mem_get MCP tool.
type GetTool struct {
	store *memory.Store
}

// NewGetTool creates a GetTool.
func NewGetTool(store *memory.Store) *GetTool {
	return &GetTool{store: store}
}

// Definition returns the MCP tool definition for mem_get.
func (t *GetTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_get",
		mcp.WithDescription("Get one stored document by ID with its full content, scope, quality and version."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Document ID (from mem_search results)"),
		),
	)
}

// Handle processes the mem_get tool call.
func (t *GetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	doc, err := t.store.Get(ctx, id)
	if errors.Is(err, memory.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("document %s not found", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get document: %v", err)), nil
	}

	text := memory.FormatDocument(*doc, memory.DetailFull, time.Now())
	text += fmt.Sprintf("\n  version: %d | streaks: +%d/-%d", doc.Version, doc.PositiveStreak, doc.NegativeStreak)
	if doc.Owner != "" {
		text += fmt.Sprintf(" | owner: %s", doc.Owner)
	}
	return mcp.NewToolResultText(text), nil
}
