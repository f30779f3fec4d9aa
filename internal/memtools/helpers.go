// Package memtools provides MCP tool handlers over the Document Store
// and the turn archive.
//
// Each tool handler follows the same pattern as internal/tools:
//   - A struct with dependencies (memory.Store) injected via constructor
//   - Definition() returns the mcp.Tool schema
//   - Handle() processes the request and returns a result
package memtools

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/turnloop/internal/memory"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// listArg splits a comma separated argument into trimmed, non-empty parts.
func listArg(req mcp.CallToolRequest, key string) []string {
	raw := req.GetString(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contentTypes(raw []string) ([]memory.ContentType, []string) {
	var types []memory.ContentType
	var bad []string
	for _, r := range raw {
		ct := memory.ContentType(r)
		if !memory.ValidContentType(ct) {
			bad = append(bad, r)
			continue
		}
		types = append(types, ct)
	}
	return types, bad
}
