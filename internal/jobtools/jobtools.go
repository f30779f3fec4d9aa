// Package jobtools exposes the job layer as MCP tools: turn_submit,
// turn_resume, turn_poll and turn_cancel. A client submits a query, gets
// a job id back immediately, and polls until the status is no longer
// "running".
package jobtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/turnloop/internal/jobs"
	"github.com/HendryAvila/turnloop/internal/pipeline"
	"github.com/HendryAvila/turnloop/internal/turn"
)

// Jobs is the part of jobs.Manager the tools use.
type Jobs interface {
	Submit(req pipeline.Request) (string, error)
	Resume(traceID, userID string) (string, error)
	Poll(id string) (jobs.Result, error)
	Cancel(id string) error
}

// SubmitTool handles turn_submit.
type SubmitTool struct {
	jobs Jobs
}

// NewSubmitTool creates a SubmitTool.
func NewSubmitTool(j Jobs) *SubmitTool {
	return &SubmitTool{jobs: j}
}

// Definition returns the MCP tool definition for turn_submit.
func (t *SubmitTool) Definition() mcp.Tool {
	return mcp.NewTool("turn_submit",
		mcp.WithDescription("Start answering a query in the background. Returns a job_id to pass to turn_poll."),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Who is asking. Memory and conversation history are per user."),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The question or instruction."),
		),
		mcp.WithString("mode",
			mcp.Description("read_only (default) or read_write. Only read_write turns may run tools that change files."),
			mcp.Enum(string(turn.ModeReadOnly), string(turn.ModeReadWrite)),
		),
		mcp.WithString("trace_id",
			mcp.Description("Optional id for the turn. Generated when empty; it becomes the job id."),
		),
	)
}

// Handle processes the turn_submit tool call.
func (t *SubmitTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	query := req.GetString("query", "")
	if userID == "" || query == "" {
		return mcp.NewToolResultError("'user_id' and 'query' are required"), nil
	}
	mode := turn.Mode(req.GetString("mode", string(turn.ModeReadOnly)))
	if err := turn.ValidateMode(mode); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id, err := t.jobs.Submit(pipeline.Request{
		TraceID: req.GetString("trace_id", ""),
		UserID:  userID,
		Query:   query,
		Mode:    mode,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to submit turn: %v", err)), nil
	}
	return jsonResult(map[string]string{"job_id": id, "status": string(jobs.StatusRunning)})
}

// ResumeTool handles turn_resume.
type ResumeTool struct {
	jobs Jobs
}

// NewResumeTool creates a ResumeTool.
func NewResumeTool(j Jobs) *ResumeTool {
	return &ResumeTool{jobs: j}
}

// Definition returns the MCP tool definition for turn_resume.
func (t *ResumeTool) Definition() mcp.Tool {
	return mcp.NewTool("turn_resume",
		mcp.WithDescription("Continue a cancelled or interrupted turn from its last completed stage."),
		mcp.WithString("trace_id",
			mcp.Required(),
			mcp.Description("The job id of the interrupted turn."),
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("The user who submitted the turn."),
		),
	)
}

// Handle processes the turn_resume tool call.
func (t *ResumeTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	traceID := req.GetString("trace_id", "")
	userID := req.GetString("user_id", "")
	if traceID == "" || userID == "" {
		return mcp.NewToolResultError("'trace_id' and 'user_id' are required"), nil
	}
	id, err := t.jobs.Resume(traceID, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to resume turn: %v", err)), nil
	}
	return jsonResult(map[string]string{"job_id": id, "status": string(jobs.StatusRunning)})
}

// PollTool handles turn_poll.
type PollTool struct {
	jobs Jobs
}

// NewPollTool creates a PollTool.
func NewPollTool(j Jobs) *PollTool {
	return &PollTool{jobs: j}
}

// Definition returns the MCP tool definition for turn_poll.
func (t *PollTool) Definition() mcp.Tool {
	return mcp.NewTool("turn_poll",
		mcp.WithDescription("Get the status of a turn job. A finished job returns the answer, a clarification question, or an error."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job id from turn_submit."),
		),
	)
}

// Handle processes the turn_poll tool call.
func (t *PollTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("job_id", "")
	if id == "" {
		return mcp.NewToolResultError("'job_id' is required"), nil
	}
	res, err := t.jobs.Poll(id)
	if errors.Is(err, jobs.ErrJobNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("job %s not found or expired", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to poll job: %v", err)), nil
	}
	return jsonResult(res)
}

// CancelTool handles turn_cancel.
type CancelTool struct {
	jobs Jobs
}

// NewCancelTool creates a CancelTool.
func NewCancelTool(j Jobs) *CancelTool {
	return &CancelTool{jobs: j}
}

// Definition returns the MCP tool definition for turn_cancel.
func (t *CancelTool) Definition() mcp.Tool {
	return mcp.NewTool("turn_cancel",
		mcp.WithDescription("Stop a running turn. The turn keeps its progress and can be continued with turn_resume."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job id from turn_submit."),
		),
	)
}

// Handle processes the turn_cancel tool call.
func (t *CancelTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("job_id", "")
	if id == "" {
		return mcp.NewToolResultError("'job_id' is required"), nil
	}
	err := t.jobs.Cancel(id)
	if errors.Is(err, jobs.ErrJobNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("job %s not found or expired", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to cancel job: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("cancel requested for job %s", id)), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
