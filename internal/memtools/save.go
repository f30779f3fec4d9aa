package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/turnloop/internal/memory"
)

// SaveTool handles the mem_save MCP tool. It stores what a user tells
// the system directly, preferences and site patterns, so it starts at
// user scope instead of going through candidate admission.
type SaveTool struct {
	store *memory.Store
}

// NewSaveTool creates a SaveTool with the given memory store.
func NewSaveTool(store *memory.Store) *SaveTool {
	return &SaveTool{store: store}
}

// Definition returns the MCP tool definition for mem_save.
func (t *SaveTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_save",
		mcp.WithDescription(
			"Save a user preference or site pattern. Later turns for the same user see it during context assembly.",
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Owner of the document"),
		),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("Hierarchical topic, e.g. shopping/laptops"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The preference or pattern, in plain words"),
		),
		mcp.WithString("type",
			mcp.Description("preference (default) or site-pattern"),
			mcp.Enum(string(memory.ContentPreference), string(memory.ContentSitePattern)),
		),
		mcp.WithString("keywords",
			mcp.Description("Comma separated keywords"),
		),
	)
}

// Handle processes the mem_save tool call.
func (t *SaveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	topic := req.GetString("topic", "")
	content := req.GetString("content", "")
	if userID == "" || strings.TrimSpace(topic) == "" || strings.TrimSpace(content) == "" {
		return mcp.NewToolResultError("'user_id', 'topic' and 'content' are required"), nil
	}

	ct := memory.ContentType(req.GetString("type", string(memory.ContentPreference)))
	if ct != memory.ContentPreference && ct != memory.ContentSitePattern {
		return mcp.NewToolResultError(fmt.Sprintf("type must be %s or %s", memory.ContentPreference, memory.ContentSitePattern)), nil
	}

	doc, err := t.store.Commit(ctx, memory.Document{
		Topic:        topic,
		Keywords:     listArg(req, "keywords"),
		Purpose:      "stated by the user",
		Content:      content,
		ContentTypes: []memory.ContentType{ct},
		Scope:        memory.ScopeUser,
		Quality:      0.8,
		Owner:        userID,
	}, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save document: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Saved %s %q\nID: %s", ct, doc.Topic, doc.ID)), nil
}
