package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// HistoryPrompt handles the turnloop-history MCP prompt.
// It instructs the AI to read and present a user's recent turns.
type HistoryPrompt struct{}

// NewHistoryPrompt creates a HistoryPrompt.
func NewHistoryPrompt() *HistoryPrompt {
	return &HistoryPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *HistoryPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("turnloop-history",
		mcp.WithPromptDescription(
			"Review your recent questions, how each one ended, "+
				"and what turnloop has learned from them.",
		),
		mcp.WithArgument("user_id",
			mcp.ArgumentDescription("Whose history to show. Default: local"),
		),
	)
}

// Handle processes the turnloop-history prompt request.
func (p *HistoryPrompt) Handle(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	userID := "local"
	if u := req.Params.Arguments["user_id"]; u != "" {
		userID = u
	}
	return &mcp.GetPromptResult{
		Description: "turnloop history",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Please run `turn_history` with user_id=%q and `mem_stats`.\n\n"+
						"Then:\n"+
						"1. List my recent turns with their outcome in a short table\n"+
						"2. Point out turns that failed or asked for clarification\n"+
						"3. Summarize how many documents are stored and how many turns were archived",
					userID,
				)),
			},
		},
	}, nil
}
