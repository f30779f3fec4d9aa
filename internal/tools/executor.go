package tools

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/turnloop/internal/turn"
)

// DefaultTimeout applies to tools registered without their own timeout.
const DefaultTimeout = 20 * time.Second

// Observer is told about every call the executor runs.
type Observer interface {
	ToolStarted(call turn.Call)
	ToolFinished(res turn.Result)
}

// Executor runs registry tools under the sandbox policy.
type Executor struct {
	registry    *Registry
	policy      Policy
	timeout     time.Duration
	maxParallel int
	logger      *zap.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithDefaultTimeout sets the timeout for tools without their own.
func WithDefaultTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxParallel bounds how many goal groups run at once.
func WithMaxParallel(n int) ExecutorOption {
	return func(e *Executor) { e.maxParallel = n }
}

// WithLogger sets the executor logger.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor creates an executor over reg.
func NewExecutor(reg *Registry, policy Policy, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    reg,
		policy:      policy,
		timeout:     DefaultTimeout,
		maxParallel: 4,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("tools")
	return e
}

// Registry returns the registry the executor dispatches to.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs one call and always returns a normalized result. It never
// panics and never returns a Go error; failures are classified in
// Result.ErrorCode.
func (e *Executor) Execute(ctx context.Context, mode turn.Mode, call turn.Call) turn.Result {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	ctx, span := otel.Tracer("turnloop/tools").Start(ctx, "tool."+call.Tool)
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", call.Tool),
		attribute.String("tool.call_id", call.ID),
		attribute.String("goal.id", call.GoalID),
	)

	start := time.Now()
	res := e.execute(ctx, mode, call)
	res.CallID = call.ID
	res.Tool = call.Tool
	res.GoalID = call.GoalID
	res.Elapsed = time.Since(start)

	if !res.Success {
		span.SetStatus(codes.Error, string(res.ErrorCode))
		e.logger.Debug("tool call failed",
			zap.String("tool", call.Tool),
			zap.String("goal", call.GoalID),
			zap.String("code", string(res.ErrorCode)),
			zap.String("error", res.ErrorMessage),
			zap.Duration("elapsed", res.Elapsed),
		)
	}
	return res
}

func (e *Executor) execute(ctx context.Context, mode turn.Mode, call turn.Call) turn.Result {
	if err := ctx.Err(); err != nil {
		return failure(turn.ErrCodeCancelled, "turn cancelled before %s ran", call.Tool)
	}

	entry, ok := e.registry.Get(call.Tool)
	if !ok {
		return failure(turn.ErrCodeNotFound, "%v: %s", ErrToolNotFound, call.Tool)
	}
	if terr := e.policy.Check(call.Tool, entry, mode, call.Args); terr != nil {
		return failure(terr.Code, "%s", terr.Message)
	}
	if err := validateArgs(entry.Def, call.Args); err != nil {
		return failure(turn.ErrCodeInvalidArgs, "%v", err)
	}

	timeout := entry.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = call.Tool
	req.Params.Arguments = call.Args

	type outcome struct {
		res *mcp.CallToolResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("tool panicked",
					zap.String("tool", call.Tool),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", call.Tool, r)}
			}
		}()
		res, err := entry.Handler(cctx, req)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return classify(out.res, out.err)
	case <-cctx.Done():
		if ctx.Err() != nil {
			return failure(turn.ErrCodeCancelled, "turn cancelled while %s was running", call.Tool)
		}
		return failure(turn.ErrCodeTimeout, "%s did not finish within %s", call.Tool, timeout)
	}
}

func classify(res *mcp.CallToolResult, err error) turn.Result {
	if err != nil {
		var terr *ToolError
		switch {
		case errors.As(err, &terr):
			return failure(terr.Code, "%s", terr.Message)
		case errors.Is(err, context.DeadlineExceeded):
			return failure(turn.ErrCodeTimeout, "%v", err)
		case errors.Is(err, context.Canceled):
			return failure(turn.ErrCodeCancelled, "%v", err)
		default:
			return failure(turn.ErrCodeGeneric, "%v", err)
		}
	}
	if res == nil {
		return failure(turn.ErrCodeGeneric, "tool returned no result")
	}
	text := ResultText(res)
	if res.IsError {
		return failure(turn.ErrCodeGeneric, "%s", text)
	}
	return turn.Result{Success: true, Payload: text}
}

func failure(code turn.ErrorCode, format string, args ...any) turn.Result {
	return turn.Result{ErrorCode: code, ErrorMessage: fmt.Sprintf(format, args...)}
}

// ExecuteBatch runs calls grouped by goal: groups run concurrently, calls
// within a group run in order. Results come back in the order of calls.
// obs may be nil.
func (e *Executor) ExecuteBatch(ctx context.Context, mode turn.Mode, calls []turn.Call, obs Observer) []turn.Result {
	results := make([]turn.Result, len(calls))

	groups := make(map[string][]int)
	var order []string
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = uuid.NewString()
		}
		g := calls[i].GoalID
		if _, seen := groups[g]; !seen {
			order = append(order, g)
		}
		groups[g] = append(groups[g], i)
	}

	var eg errgroup.Group
	if e.maxParallel > 0 {
		eg.SetLimit(e.maxParallel)
	}
	for _, g := range order {
		idxs := groups[g]
		eg.Go(func() error {
			for _, i := range idxs {
				if obs != nil {
					obs.ToolStarted(calls[i])
				}
				results[i] = e.Execute(ctx, mode, calls[i])
				if obs != nil {
					obs.ToolFinished(results[i])
				}
			}
			return nil
		})
	}
	_ = eg.Wait()
	return results
}
