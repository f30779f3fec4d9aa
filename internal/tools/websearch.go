package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/turnloop/internal/turn"
)

// SearchHit is one result from a search backend.
type SearchHit struct {
	Title     string            `json:"title"`
	URL       string            `json:"url"`
	Snippet   string            `json:"snippet"`
	Published string            `json:"published,omitempty"`
	Facts     map[string]string `json:"facts,omitempty"`
}

// Searcher is an external search backend.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
}

// ErrBackendUnavailable marks search backend failures that mean the
// dependency is missing rather than the query being bad.
var ErrBackendUnavailable = errors.New("search backend unavailable")

// WebSearchTool handles the web_search tool.
type WebSearchTool struct {
	searcher Searcher
}

// NewWebSearchTool creates a WebSearchTool. A nil searcher makes every
// call fail with dependency_missing.
func NewWebSearchTool(s Searcher) *WebSearchTool {
	return &WebSearchTool{searcher: s}
}

// Definition returns the MCP tool definition for registration.
func (t *WebSearchTool) Definition() mcp.Tool {
	return mcp.NewTool("web_search",
		mcp.WithDescription("Search the web and return titled results with URLs and snippets as JSON."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search terms."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results to return (default 5)."),
		),
	)
}

type webSearchPayload struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
}

// Handle processes the web_search tool call.
func (t *WebSearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t.searcher == nil {
		return nil, Fail(turn.ErrCodeDependencyMissing, "no search backend is configured")
	}
	query := req.GetString("query", "")
	limit := intArg(req, "limit", 5)

	hits, err := t.searcher.Search(ctx, query, limit)
	if errors.Is(err, ErrBackendUnavailable) {
		return nil, Fail(turn.ErrCodeDependencyMissing, "%v", err)
	}
	if err != nil {
		return nil, err
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}

	data, err := json.Marshal(webSearchPayload{Query: query, Results: hits})
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
