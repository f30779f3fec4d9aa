package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/turnloop/internal/turn"
)

// maxFileRead caps how much of a file file_read returns.
const maxFileRead = 64 << 10

// FileReadTool handles the file_read tool. Paths are relative to root
// and have already passed the executor's sandbox policy.
type FileReadTool struct {
	root string
}

// NewFileReadTool creates a FileReadTool rooted at root.
func NewFileReadTool(root string) *FileReadTool {
	return &FileReadTool{root: root}
}

// Definition returns the MCP tool definition for registration.
func (t *FileReadTool) Definition() mcp.Tool {
	return mcp.NewTool("file_read",
		mcp.WithDescription("Read a text file from the sandboxed workspace."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path relative to the workspace root."),
		),
	)
}

// Handle processes the file_read tool call.
func (t *FileReadTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	full := filepath.Join(t.root, filepath.Clean(path))

	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Fail(turn.ErrCodeNotFound, "file %s does not exist", path)
	}
	if errors.Is(err, fs.ErrPermission) {
		return nil, Fail(turn.ErrCodePermissionDenied, "file %s is not readable", path)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, maxFileRead)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return mcp.NewToolResultText(""), nil
	}
	return mcp.NewToolResultText(string(buf[:n])), nil
}

// FileWriteTool handles the file_write tool. It is registered as
// mutating, so it only runs in read-write turns.
type FileWriteTool struct {
	root string
}

// NewFileWriteTool creates a FileWriteTool rooted at root.
func NewFileWriteTool(root string) *FileWriteTool {
	return &FileWriteTool{root: root}
}

// Definition returns the MCP tool definition for registration.
func (t *FileWriteTool) Definition() mcp.Tool {
	return mcp.NewTool("file_write",
		mcp.WithDescription("Write a text file in the sandboxed workspace, creating parent directories."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path relative to the workspace root."),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("File content."),
		),
	)
}

// Handle processes the file_write tool call.
func (t *FileWriteTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	content := req.GetString("content", "")
	full := filepath.Join(t.root, filepath.Clean(path))

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("wrote %d bytes to %s", len(content), path)), nil
}
