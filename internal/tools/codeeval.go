package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"go/parser"
	"go/token"
	"path"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/HendryAvila/turnloop/internal/turn"
)

// DefaultEvalPackages are the standard library packages code_eval may
// import unless configured otherwise.
var DefaultEvalPackages = []string{
	"fmt", "math", "sort", "strconv", "strings", "time", "unicode", "encoding/json", "regexp",
}

// maxEvalOutput caps the captured stdout of an evaluation.
const maxEvalOutput = 16 << 10

// CodeEvalTool handles the code_eval tool: it interprets a Go snippet
// with yaegi, exposing only an allow-listed subset of the standard
// library.
type CodeEvalTool struct {
	allowed map[string]bool
	symbols interp.Exports
}

// NewCodeEvalTool creates a CodeEvalTool. An empty allow list uses
// DefaultEvalPackages.
func NewCodeEvalTool(packages []string) *CodeEvalTool {
	if len(packages) == 0 {
		packages = DefaultEvalPackages
	}
	allowed := make(map[string]bool, len(packages))
	for _, p := range packages {
		allowed[p] = true
	}

	// stdlib.Symbols is keyed "import/path/name", e.g. "strings/strings".
	symbols := interp.Exports{}
	for key, syms := range stdlib.Symbols {
		if allowed[path.Dir(key)] {
			symbols[key] = syms
		}
	}
	return &CodeEvalTool{allowed: allowed, symbols: symbols}
}

// Definition returns the MCP tool definition for registration.
func (t *CodeEvalTool) Definition() mcp.Tool {
	return mcp.NewTool("code_eval",
		mcp.WithDescription("Evaluate a Go snippet in a sandboxed interpreter and return its stdout and final value."),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("Go source. A package clause is optional; only allow-listed standard library imports resolve."),
		),
	)
}

type evalPayload struct {
	Output string `json:"output"`
	Value  string `json:"value,omitempty"`
}

// Handle processes the code_eval tool call.
func (t *CodeEvalTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code := req.GetString("code", "")

	imports, err := importsOf(code)
	if err != nil {
		return nil, Fail(turn.ErrCodeInvalidArgs, "cannot parse imports: %v", err)
	}
	for _, imp := range imports {
		if !t.allowed[imp] {
			return nil, Fail(turn.ErrCodeSandboxViolation, "import %q is not allowed", imp)
		}
	}

	var out bytes.Buffer
	i := interp.New(interp.Options{Stdout: &out, Stderr: &out})
	if err := i.Use(t.symbols); err != nil {
		return nil, fmt.Errorf("load interpreter symbols: %w", err)
	}

	v, err := i.EvalWithContext(ctx, code)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return mcp.NewToolResultError(fmt.Sprintf("evaluation failed: %v", err)), nil
	}

	p := evalPayload{Output: truncateOutput(out.String())}
	if v.IsValid() && v.CanInterface() {
		p.Value = fmt.Sprint(v.Interface())
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

// importsOf returns the import paths of a snippet. Snippets without a
// package clause are parsed as if they had one.
func importsOf(code string) ([]string, error) {
	src := code
	if !strings.HasPrefix(strings.TrimSpace(code), "package ") {
		src = "package main\n" + code
	}
	f, err := parser.ParseFile(token.NewFileSet(), "snippet.go", src, parser.ImportsOnly)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(f.Imports))
	for _, spec := range f.Imports {
		p, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func truncateOutput(s string) string {
	if len(s) <= maxEvalOutput {
		return s
	}
	return s[:maxEvalOutput] + "\n[output truncated]"
}
