package jobtools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/turnloop/internal/jobs"
	"github.com/HendryAvila/turnloop/internal/pipeline"
	"github.com/HendryAvila/turnloop/internal/turn"
)

type fakeJobs struct {
	submitted []pipeline.Request
	resumed   []string
	cancelled []string
	results   map[string]jobs.Result
	err       error
}

func (f *fakeJobs) Submit(req pipeline.Request) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.submitted = append(f.submitted, req)
	if req.TraceID != "" {
		return req.TraceID, nil
	}
	return "job-1", nil
}

func (f *fakeJobs) Resume(traceID, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.resumed = append(f.resumed, traceID)
	return traceID, nil
}

func (f *fakeJobs) Poll(id string) (jobs.Result, error) {
	res, ok := f.results[id]
	if !ok {
		return jobs.Result{}, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id)
	}
	return res, nil
}

func (f *fakeJobs) Cancel(id string) error {
	if _, ok := f.results[id]; !ok {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id)
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func makeReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	if tc, ok := r.Content[0].(mcp.TextContent); ok {
		return tc.Text
	}
	return ""
}

func TestSubmitTool_StartsReadOnlyTurnByDefault(t *testing.T) {
	fj := &fakeJobs{}
	res, err := NewSubmitTool(fj).Handle(context.Background(), makeReq(map[string]any{
		"user_id": "alice",
		"query":   "what is the capital of France?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(res))
	}

	var out map[string]string
	if err := json.Unmarshal([]byte(resultText(res)), &out); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if out["job_id"] != "job-1" || out["status"] != "running" {
		t.Errorf("unexpected result: %v", out)
	}
	if len(fj.submitted) != 1 || fj.submitted[0].Mode != turn.ModeReadOnly {
		t.Errorf("expected one read-only submission, got %+v", fj.submitted)
	}
}

func TestSubmitTool_TraceIDBecomesJobID(t *testing.T) {
	fj := &fakeJobs{}
	res, _ := NewSubmitTool(fj).Handle(context.Background(), makeReq(map[string]any{
		"user_id":  "alice",
		"query":    "write notes.md",
		"mode":     "read_write",
		"trace_id": "trace-42",
	}))
	if !strings.Contains(resultText(res), "trace-42") {
		t.Errorf("expected trace id as job id, got %s", resultText(res))
	}
	if fj.submitted[0].Mode != turn.ModeReadWrite {
		t.Errorf("mode = %s, want read_write", fj.submitted[0].Mode)
	}
}

func TestSubmitTool_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing user", map[string]any{"query": "q"}},
		{"missing query", map[string]any{"user_id": "alice"}},
		{"bad mode", map[string]any{"user_id": "alice", "query": "q", "mode": "admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fj := &fakeJobs{}
			res, err := NewSubmitTool(fj).Handle(context.Background(), makeReq(tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.IsError {
				t.Error("expected a tool error")
			}
			if len(fj.submitted) != 0 {
				t.Error("nothing should have been submitted")
			}
		})
	}
}

func TestSubmitTool_ManagerError(t *testing.T) {
	fj := &fakeJobs{err: jobs.ErrClosed}
	res, _ := NewSubmitTool(fj).Handle(context.Background(), makeReq(map[string]any{
		"user_id": "alice", "query": "q",
	}))
	if !res.IsError || !strings.Contains(resultText(res), "closed") {
		t.Errorf("expected closed error, got %s", resultText(res))
	}
}

func TestResumeTool(t *testing.T) {
	fj := &fakeJobs{}
	res, _ := NewResumeTool(fj).Handle(context.Background(), makeReq(map[string]any{
		"trace_id": "trace-7", "user_id": "alice",
	}))
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(res))
	}
	if len(fj.resumed) != 1 || fj.resumed[0] != "trace-7" {
		t.Errorf("resumed = %v", fj.resumed)
	}

	res, _ = NewResumeTool(fj).Handle(context.Background(), makeReq(map[string]any{"trace_id": "trace-7"}))
	if !res.IsError {
		t.Error("expected error without user_id")
	}
}

func TestPollTool(t *testing.T) {
	fj := &fakeJobs{results: map[string]jobs.Result{
		"job-1": {JobID: "job-1", Status: jobs.StatusDone, Outcome: turn.OutcomeApproved, Answer: "Paris [1]"},
	}}
	tool := NewPollTool(fj)

	res, _ := tool.Handle(context.Background(), makeReq(map[string]any{"job_id": "job-1"}))
	var got jobs.Result
	if err := json.Unmarshal([]byte(resultText(res)), &got); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if got.Status != jobs.StatusDone || got.Answer != "Paris [1]" {
		t.Errorf("unexpected poll result: %+v", got)
	}

	res, _ = tool.Handle(context.Background(), makeReq(map[string]any{"job_id": "missing"}))
	if !res.IsError || !strings.Contains(resultText(res), "not found") {
		t.Errorf("expected not found, got %s", resultText(res))
	}
}

func TestCancelTool(t *testing.T) {
	fj := &fakeJobs{results: map[string]jobs.Result{"job-1": {JobID: "job-1", Status: jobs.StatusRunning}}}
	tool := NewCancelTool(fj)

	res, _ := tool.Handle(context.Background(), makeReq(map[string]any{"job_id": "job-1"}))
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(res))
	}
	if len(fj.cancelled) != 1 {
		t.Errorf("cancelled = %v", fj.cancelled)
	}

	res, _ = tool.Handle(context.Background(), makeReq(map[string]any{"job_id": "nope"}))
	if !res.IsError {
		t.Error("expected error for unknown job")
	}
	res, _ = tool.Handle(context.Background(), makeReq(map[string]any{}))
	if !res.IsError {
		t.Error("expected error without job_id")
	}
}

func TestDefinitions(t *testing.T) {
	fj := &fakeJobs{}
	names := []string{
		NewSubmitTool(fj).Definition().Name,
		NewResumeTool(fj).Definition().Name,
		NewPollTool(fj).Definition().Name,
		NewCancelTool(fj).Definition().Name,
	}
	want := []string{"turn_submit", "turn_resume", "turn_poll", "turn_cancel"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("tool %d named %q, want %q", i, names[i], want[i])
		}
	}
}
