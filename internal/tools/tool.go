// Package tools implements the tool registry and executor the coordinator
// dispatches through.
//
// Each tool is a struct with its dependencies injected via constructor,
// a Definition() returning the mcp.Tool schema, and a Handle() with
// mcp-go's CallToolRequest signature. The Executor wraps every call with
// policy checks, argument validation, a timeout and panic recovery, and
// normalizes the outcome into a turn.Result.
package tools

import (
	"context"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handler is the mcp-go tool handler signature.
type Handler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Tool is a registrable tool.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Entry is a registered tool with its execution metadata.
type Entry struct {
	Def     mcp.Tool
	Handler Handler
	// Mutating tools change state outside the turn and only run in
	// read-write mode.
	Mutating bool
	// Timeout overrides the executor default when non-zero.
	Timeout time.Duration
}

// Option configures an Entry at registration.
type Option func(*Entry)

// WithTimeout sets a per-tool timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Entry) { e.Timeout = d }
}

// Mutating marks a tool as state-changing.
func Mutating() Option {
	return func(e *Entry) { e.Mutating = true }
}

// ResultText extracts the concatenated text content of a tool result.
func ResultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	switch v := req.GetArguments()[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultVal
	}
}
