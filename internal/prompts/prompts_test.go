package prompts

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func promptReq(args map[string]string) mcp.GetPromptRequest {
	req := mcp.GetPromptRequest{}
	req.Params.Arguments = args
	return req
}

func messageText(t *testing.T, res *mcp.GetPromptResult) string {
	t.Helper()
	if len(res.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(res.Messages))
	}
	tc, ok := res.Messages[0].Content.(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Messages[0].Content)
	}
	return tc.Text
}

func TestAskPrompt(t *testing.T) {
	p := NewAskPrompt()
	if p.Definition().Name != "turnloop-ask" {
		t.Errorf("unexpected name %q", p.Definition().Name)
	}

	res, err := p.Handle(context.Background(), promptReq(map[string]string{"question": "gf63 price", "user_id": "alice"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := messageText(t, res)
	for _, want := range []string{`"gf63 price"`, `user_id="alice"`, "turn_submit", "turn_poll"} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt should mention %s:\n%s", want, text)
		}
	}
}

func TestAskPrompt_DefaultsUserAndRequiresQuestion(t *testing.T) {
	p := NewAskPrompt()

	res, err := p.Handle(context.Background(), promptReq(map[string]string{"question": "q"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(messageText(t, res), `user_id="local"`) {
		t.Error("expected default user id")
	}

	if _, err := p.Handle(context.Background(), promptReq(nil)); err == nil {
		t.Error("expected error without question")
	}
}

func TestHistoryPrompt(t *testing.T) {
	p := NewHistoryPrompt()
	res, err := p.Handle(context.Background(), promptReq(map[string]string{"user_id": "bob"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := messageText(t, res)
	if !strings.Contains(text, "turn_history") || !strings.Contains(text, `user_id="bob"`) {
		t.Errorf("unexpected prompt:\n%s", text)
	}
}
