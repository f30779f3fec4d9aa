package memtools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/turnloop/internal/memory"
)

// HistoryTool handles the turn_history MCP tool.
type HistoryTool struct {
	store *memory.Store
}

// NewHistoryTool creates a HistoryTool.
func NewHistoryTool(store *memory.Store) *HistoryTool {
	return &HistoryTool{store: store}
}

// Definition returns the MCP tool definition for turn_history.
func (t *HistoryTool) Definition() mcp.Tool {
	return mcp.NewTool("turn_history",
		mcp.WithDescription(
			"List a user's recent turns from the summary index, newest first. "+
				"Pass 'number' to load one turn with its full record, including archived turns.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("User whose turns to list"),
		),
		mcp.WithNumber("number",
			mcp.Description("Turn number to load in full"),
		),
		mcp.WithNumber("limit",
			mcp.Description("How many recent turns to list (default: 5)"),
		),
	)
}

// Handle processes the turn_history tool call.
func (t *HistoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("'user_id' is required"), nil
	}

	if n := intArg(req, "number", 0); n > 0 {
		return t.one(ctx, userID, int64(n))
	}

	turns, err := t.store.RecentTurns(ctx, userID, intArg(req, "limit", 5))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list turns: %v", err)), nil
	}
	if len(turns) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No turns recorded for %s.", userID)), nil
	}

	now := time.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "Recent turns for %s:\n\n", userID)
	for _, e := range turns {
		fmt.Fprintf(&b, "#%d [%s] %s (%s)\n", e.Number, e.Outcome, humanize.RelTime(e.CreatedAt, now, "ago", "from now"), e.Tier)
		for _, line := range strings.Split(e.Summary, "\n") {
			fmt.Fprintf(&b, "    %s\n", line)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (t *HistoryTool) one(ctx context.Context, userID string, number int64) (*mcp.CallToolResult, error) {
	e, err := t.store.LoadTurn(ctx, userID, number)
	if errors.Is(err, memory.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("turn %s#%d not found", userID, number)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load turn: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Turn #%d (%s, %s)\ntrace: %s\n%s\n\n", e.Number, e.Outcome, e.Tier, e.TraceID, e.Summary)
	b.Write(e.Record)
	b.WriteString(memory.TokenFooter(memory.EstimateTokens(b.String())))
	return mcp.NewToolResultText(b.String()), nil
}
