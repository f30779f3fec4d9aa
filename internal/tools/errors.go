package tools

import (
	"errors"
	"fmt"

	"github.com/HendryAvila/turnloop/internal/turn"
)

var (
	ErrToolNotFound          = errors.New("tool not found")
	ErrToolAlreadyRegistered = errors.New("tool already registered")
	ErrInvalidTool           = errors.New("invalid tool definition")
	ErrMissingRequiredArg    = errors.New("missing required argument")
)

// ToolError is a classified tool failure. Handlers return it to choose
// the error code the caller sees.
type ToolError struct {
	Code    turn.ErrorCode
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Fail builds a ToolError.
func Fail(code turn.ErrorCode, format string, args ...any) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...)}
}
