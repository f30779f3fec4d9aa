package tools

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/HendryAvila/turnloop/internal/turn"
)

// Policy is the sandbox applied before every tool call.
type Policy struct {
	// Allow lists the tools that may run. Empty allows every registered tool.
	Allow []string
	// Deny lists tools that never run. Deny wins over Allow.
	Deny []string
	// Paths are doublestar patterns, relative to the tool root, that
	// path arguments must match.
	Paths []string
}

// pathArgs are argument names treated as filesystem paths.
var pathArgs = []string{"path", "file", "dir"}

// Check returns a classified error if the call may not run.
func (p Policy) Check(name string, e Entry, mode turn.Mode, args map[string]any) *ToolError {
	for _, d := range p.Deny {
		if d == name {
			return Fail(turn.ErrCodePermissionDenied, "tool %s is denied by policy", name)
		}
	}
	if len(p.Allow) > 0 && !contains(p.Allow, name) {
		return Fail(turn.ErrCodePermissionDenied, "tool %s is not in the allow list", name)
	}
	if e.Mutating && mode != turn.ModeReadWrite {
		return Fail(turn.ErrCodePermissionDenied, "tool %s changes state and the turn is %s", name, mode)
	}
	for _, key := range pathArgs {
		if raw, ok := args[key].(string); ok {
			if err := p.CheckPath(raw); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckPath validates a path argument against the allowed patterns.
func (p Policy) CheckPath(raw string) *ToolError {
	if raw == "" {
		return nil
	}
	if filepath.IsAbs(raw) {
		return Fail(turn.ErrCodeSandboxViolation, "absolute path %q is outside the sandbox", raw)
	}
	clean := filepath.ToSlash(filepath.Clean(raw))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return Fail(turn.ErrCodeSandboxViolation, "path %q escapes the sandbox", raw)
	}
	for _, pattern := range p.Paths {
		if ok, _ := doublestar.Match(pattern, clean); ok {
			return nil
		}
	}
	return Fail(turn.ErrCodeSandboxViolation, "path %q matches no allowed pattern", raw)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
