package memtools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/turnloop/internal/memory"
)

// SearchTool handles the mem_search MCP tool.
type SearchTool struct {
	store *memory.Store
}

// NewSearchTool creates a SearchTool.
func NewSearchTool(store *memory.Store) *SearchTool {
	return &SearchTool{store: store}
}

// Definition returns the MCP tool definition for mem_search.
func (t *SearchTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_search",
		mcp.WithDescription(
			"Search stored documents (research evidence, preferences, site patterns, past turns) "+
				"by text and structured filters. Results are ranked by relevance blended with quality.",
		),
		mcp.WithString("query",
			mcp.Description("Full-text query. Empty returns the most recent documents."),
		),
		mcp.WithString("user_id",
			mcp.Description("Only documents visible to this user: their own plus global ones"),
		),
		mcp.WithString("content_types",
			mcp.Description("Comma separated: evidence, preference, site-pattern, turn-record, research, tool-reliability"),
		),
		mcp.WithString("scopes",
			mcp.Description("Comma separated: new, user, global"),
		),
		mcp.WithString("topic_prefix",
			mcp.Description("Topic or topic prefix, e.g. laptops/msi"),
		),
		mcp.WithNumber("min_quality",
			mcp.Description("Minimum quality in [0,1]"),
		),
		mcp.WithNumber("max_age_hours",
			mcp.Description("Only documents created within this many hours"),
		),
		mcp.WithBoolean("include_expired",
			mcp.Description("Include documents past their expiry"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 10)"),
		),
		mcp.WithString("detail_level",
			mcp.Description("Level of detail: 'summary', 'standard' (default) or 'full'"),
			mcp.Enum(memory.DetailLevelValues()...),
		),
	)
}

// Handle processes the mem_search tool call.
func (t *SearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	types, bad := contentTypes(listArg(req, "content_types"))
	if len(bad) > 0 {
		return mcp.NewToolResultError(fmt.Sprintf("unknown content types: %s", strings.Join(bad, ", "))), nil
	}
	var scopes []memory.Scope
	for _, s := range listArg(req, "scopes") {
		sc := memory.Scope(s)
		if !memory.ValidScope(sc) {
			return mcp.NewToolResultError(fmt.Sprintf("unknown scope %q", s)), nil
		}
		scopes = append(scopes, sc)
	}

	limit := intArg(req, "limit", 10)
	q := memory.Query{
		Text:           req.GetString("query", ""),
		TopicPrefix:    req.GetString("topic_prefix", ""),
		ContentTypes:   types,
		Scopes:         scopes,
		MinQuality:     req.GetFloat("min_quality", 0),
		MaxAge:         time.Duration(intArg(req, "max_age_hours", 0)) * time.Hour,
		Owner:          req.GetString("user_id", ""),
		IncludeExpired: req.GetBool("include_expired", false),
		// One extra row tells us whether the results were capped.
		Limit: limit + 1,
	}

	results, err := t.store.Search(ctx, q)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("No documents found matching your query."), nil
	}

	capped := len(results) > limit
	if capped {
		results = results[:limit]
	}

	level := memory.ParseDetailLevel(req.GetString("detail_level", ""))
	now := time.Now()

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d documents:\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   relevance: %.2f | score: %.2f\n\n",
			i+1, memory.FormatDocument(r.Document, level, now), r.Relevance, r.Score)
	}
	if capped {
		b.WriteString(memory.NavigationHint(limit, limit+1, "Raise limit or narrow the filters to see more."))
	}
	b.WriteString(memory.TokenFooter(memory.EstimateTokens(b.String())))

	return mcp.NewToolResultText(b.String()), nil
}
