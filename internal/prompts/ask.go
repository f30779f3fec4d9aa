// Package prompts implements MCP prompt handlers.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// AskPrompt handles the turnloop-ask MCP prompt. It walks the AI through
// submitting a turn and polling it to the end.
type AskPrompt struct{}

// NewAskPrompt creates an AskPrompt.
func NewAskPrompt() *AskPrompt {
	return &AskPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *AskPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("turnloop-ask",
		mcp.WithPromptDescription(
			"Ask a question and get a verified, cited answer. "+
				"Follow-up questions are resolved against your earlier turns.",
		),
		mcp.WithArgument("question",
			mcp.ArgumentDescription("What you want to know"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("user_id",
			mcp.ArgumentDescription("Your user id. Keep it the same across a conversation. Default: local"),
		),
	)
}

// Handle processes the turnloop-ask prompt request.
func (p *AskPrompt) Handle(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	args := req.Params.Arguments
	question := args["question"]
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}
	userID := "local"
	if u := args["user_id"]; u != "" {
		userID = u
	}

	return &mcp.GetPromptResult{
		Description: "Ask turnloop",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Please answer this with turnloop: %q\n\n"+
						"1. Run `turn_submit` with user_id=%q and query set to my question\n"+
						"2. Run `turn_poll` with the returned job_id until status is no longer \"running\"\n"+
						"3. If the outcome is \"approved\", show me the answer with its sources\n"+
						"4. If the outcome is \"clarify\", ask me the question it returned and submit my reply as a new turn with the same user_id\n"+
						"5. If the outcome is \"failed\", tell me why in one sentence",
					question, userID,
				)),
			},
		},
	}, nil
}
