// Package pipeline drives a turn through its stages in order: resolve,
// admit, assemble, plan, synthesize, validate, archive.
//
// The record is checkpointed after every stage, so a turn interrupted by
// cancellation or a crash continues from its last completed stage with
// Resume. Context assembly in particular runs once per turn.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/HendryAvila/turnloop/internal/memory"
	"github.com/HendryAvila/turnloop/internal/progress"
	"github.com/HendryAvila/turnloop/internal/turn"
)

// ErrStalled is returned when a turn keeps looping without reaching a
// verdict that ends it.
var ErrStalled = errors.New("pipeline: turn did not settle")

// maxSteps bounds the stage transitions of one turn. The validator's
// budgets end every well-behaved turn long before this.
const maxSteps = 64

// Config configures the runner.
type Config struct {
	// WindowSize is how many recent turns the resolver sees.
	WindowSize int
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{WindowSize: 5}
}

// Request starts a turn.
type Request struct {
	// TraceID identifies the turn; one is generated when empty.
	TraceID string
	UserID  string
	Query   string
	Mode    turn.Mode
}

// Runner executes turns.
type Runner struct {
	store  Store
	stages Stages
	cfg    Config
	logger *zap.Logger
}

// New creates a Runner.
func New(store Store, stages Stages, cfg Config, logger *zap.Logger) *Runner {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{store: store, stages: stages, cfg: cfg, logger: logger.Named("pipeline")}
}

// Run starts a new turn and drives it to a sealed outcome. The returned
// record is non-nil whenever the turn got a number, even on error.
func (r *Runner) Run(ctx context.Context, req Request, sink progress.Sink) (*turn.Record, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("pipeline: user id is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("pipeline: query is required")
	}
	if req.Mode == "" {
		req.Mode = turn.ModeReadOnly
	}
	if err := turn.ValidateMode(req.Mode); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}

	number, err := r.store.NextTurnNumber(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	rec := turn.NewRecord(req.TraceID, req.UserID, number, req.Query, req.Mode)
	if err := r.checkpoint(ctx, rec); err != nil {
		return rec, err
	}
	return r.drive(ctx, rec, sink)
}

// Resume continues a checkpointed turn from its last completed stage.
func (r *Runner) Resume(ctx context.Context, traceID string, sink progress.Sink) (*turn.Record, error) {
	cp, err := r.store.LoadCheckpoint(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resume %s: %w", traceID, err)
	}
	rec, err := turn.UnmarshalRecord(cp.Record)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resume %s: %w", traceID, err)
	}
	r.logger.Info("resuming turn",
		zap.String("trace_id", rec.TraceID),
		zap.String("user_id", rec.UserID),
		zap.Int64("turn", rec.Number),
		zap.String("stage", string(rec.Stage)),
	)
	return r.drive(ctx, rec, sink)
}

// drive advances rec one stage at a time until it is archived.
func (r *Runner) drive(ctx context.Context, rec *turn.Record, sink progress.Sink) (*turn.Record, error) {
	if sink == nil {
		sink = progress.Discard
	}
	for step := 0; step < maxSteps; step++ {
		if rec.Stage == turn.StageArchived {
			return rec, nil
		}
		if err := ctx.Err(); err != nil {
			return rec, err
		}
		next := nextStage(rec)
		if err := r.stage(ctx, rec, next, sink); err != nil {
			return rec, err
		}
	}
	return rec, fmt.Errorf("%w: %s after %d steps", ErrStalled, rec.TraceID, maxSteps)
}

// nextStage returns the stage that follows the last completed one. After
// validation it depends on the verdict.
func nextStage(rec *turn.Record) turn.Stage {
	switch rec.Stage {
	case turn.StageCreated:
		return turn.StageResolved
	case turn.StageResolved:
		return turn.StageAdmitted
	case turn.StageAdmitted:
		if rec.Admission != nil && rec.Admission.Decision == turn.DecisionClarify {
			return turn.StageArchived
		}
		return turn.StageAssembled
	case turn.StageAssembled:
		return turn.StagePlanned
	case turn.StagePlanned:
		if p := rec.LatestPlan(); p != nil && p.Route == turn.RouteClarify {
			return turn.StageArchived
		}
		return turn.StageSynthesized
	case turn.StageSynthesized:
		return turn.StageValidated
	case turn.StageValidated:
		switch rec.Validations[len(rec.Validations)-1].Verdict {
		case turn.VerdictRevise:
			return turn.StageSynthesized
		case turn.VerdictRetry:
			return turn.StagePlanned
		default:
			return turn.StageArchived
		}
	}
	return turn.StageArchived
}

// stage runs one stage inside a span, records its output, advances the
// record and checkpoints it.
func (r *Runner) stage(ctx context.Context, rec *turn.Record, stage turn.Stage, sink progress.Sink) error {
	ctx, span := otel.Tracer("turnloop/pipeline").Start(ctx, "pipeline."+string(stage))
	defer span.End()
	span.SetAttributes(
		attribute.String("turn.trace_id", rec.TraceID),
		attribute.Int64("turn.number", rec.Number),
	)

	sink.Emit(progress.Event{Kind: progress.KindStageStarted, Stage: string(stage), At: timeNow().UTC()})
	detail, err := r.runStage(ctx, rec, stage, sink)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		sink.Emit(progress.Event{
			Kind:   progress.KindStageCompleted,
			Stage:  string(stage),
			Status: "error",
			Detail: map[string]any{"error": err.Error()},
			At:     timeNow().UTC(),
		})
		r.logger.Warn("stage failed",
			zap.String("trace_id", rec.TraceID),
			zap.String("stage", string(stage)),
			zap.Error(err),
		)
		return err
	}

	if stage != turn.StageArchived {
		if err := rec.Advance(stage); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		if err := r.checkpoint(ctx, rec); err != nil {
			return err
		}
	}
	sink.Emit(progress.Event{
		Kind:   progress.KindStageCompleted,
		Stage:  string(stage),
		Status: "ok",
		Detail: detail,
		At:     timeNow().UTC(),
	})
	return nil
}

func (r *Runner) runStage(ctx context.Context, rec *turn.Record, stage turn.Stage, sink progress.Sink) (map[string]any, error) {
	switch stage {
	case turn.StageResolved:
		window, err := r.store.RecentTurns(ctx, rec.UserID, r.cfg.WindowSize+1)
		if err != nil {
			return nil, fmt.Errorf("pipeline: load window: %w", err)
		}
		window = excludeTurn(window, rec.Number, r.cfg.WindowSize)
		res, err := r.stages.Resolver.Resolve(ctx, rec.RawQuery, window)
		if err != nil {
			return nil, fmt.Errorf("pipeline: resolve: %w", err)
		}
		rec.Resolution = &res
		return map[string]any{"status": string(res.Status), "type": string(res.Type), "resolved": res.Resolved}, nil

	case turn.StageAdmitted:
		adm, err := r.stages.Gate.Admit(ctx, *rec.Resolution)
		if err != nil {
			return nil, fmt.Errorf("pipeline: admit: %w", err)
		}
		rec.Admission = &adm
		return map[string]any{"decision": string(adm.Decision), "confidence": adm.Confidence}, nil

	case turn.StageAssembled:
		bundle, err := r.stages.Assembler.Assemble(ctx, rec.UserID, *rec.Resolution)
		if err != nil {
			return nil, fmt.Errorf("pipeline: assemble: %w", err)
		}
		rec.Bundle = bundle
		return map[string]any{"sufficient": bundle.Sufficient, "items": len(bundle.Items()), "tokens": bundle.Tokens}, nil

	case turn.StagePlanned:
		plan, err := r.stages.Planner.Run(ctx, rec, lastFeedback(rec, turn.VerdictRetry), toolObserver{sink: sink})
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A plan that made no progress is still recorded; the validator
		// decides whether to retry.
		rec.Plans = append(rec.Plans, plan)
		if err != nil {
			r.logger.Info("planning ended without progress",
				zap.String("trace_id", rec.TraceID),
				zap.Int("attempt", plan.Attempt),
				zap.Error(err),
			)
		}
		return map[string]any{"route": string(plan.Route), "goals": len(plan.Goals), "claims": len(plan.Claims)}, nil

	case turn.StageSynthesized:
		ans, err := r.stages.Synthesizer.Synthesize(ctx, rec, lastFeedback(rec, turn.VerdictRevise))
		if err != nil {
			return nil, fmt.Errorf("pipeline: synthesize: %w", err)
		}
		rec.Answers = append(rec.Answers, ans)
		return map[string]any{"attempt": ans.Attempt, "citations": len(ans.Citations)}, nil

	case turn.StageValidated:
		val, err := r.stages.Validator.Validate(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("pipeline: validate: %w", err)
		}
		rec.Validations = append(rec.Validations, val)
		return map[string]any{"verdict": string(val.Verdict), "reasons": val.Reasons}, nil

	case turn.StageArchived:
		if err := r.seal(rec); err != nil {
			return nil, err
		}
		rep, err := r.stages.Archiver.Archive(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("pipeline: archive: %w", err)
		}
		if err := r.store.DeleteCheckpoint(ctx, rec.TraceID); err != nil && !errors.Is(err, memory.ErrNotFound) {
			r.logger.Warn("checkpoint not removed", zap.String("trace_id", rec.TraceID), zap.Error(err))
		}
		r.logger.Info("turn finished",
			zap.String("trace_id", rec.TraceID),
			zap.String("user_id", rec.UserID),
			zap.Int64("turn", rec.Number),
			zap.String("outcome", string(rec.Outcome.Status)),
		)
		return map[string]any{"outcome": string(rec.Outcome.Status), "committed": len(rep.Committed)}, nil
	}
	return nil, fmt.Errorf("pipeline: unknown stage %q", stage)
}

// seal closes the record with the outcome its last stage implies. A
// record that is already sealed, such as one resumed after a crash
// during archiving, is left alone.
func (r *Runner) seal(rec *turn.Record) error {
	if rec.SealedAt != nil {
		return nil
	}
	if rec.Admission != nil && rec.Admission.Decision == turn.DecisionClarify {
		return rec.Seal(turn.Outcome{Status: turn.OutcomeClarify, Question: rec.Admission.Question})
	}
	if p := rec.LatestPlan(); p != nil && p.Route == turn.RouteClarify && rec.Stage == turn.StagePlanned {
		q := p.Reason
		if q == "" {
			q = "Could you say more about what you need?"
		}
		return rec.Seal(turn.Outcome{Status: turn.OutcomeClarify, Question: q})
	}
	val := rec.Validations[len(rec.Validations)-1]
	if val.Verdict == turn.VerdictApprove {
		return rec.Seal(turn.Outcome{Status: turn.OutcomeApproved, Answer: rec.LatestAnswer().Text})
	}
	return rec.Seal(turn.Outcome{
		Status: turn.OutcomeFailed,
		Error:  "could not complete this request: " + strings.Join(val.Reasons, "; "),
	})
}

func (r *Runner) checkpoint(ctx context.Context, rec *turn.Record) error {
	data, err := rec.Marshal()
	if err != nil {
		return err
	}
	err = r.store.SaveCheckpoint(ctx, memory.Checkpoint{
		TraceID: rec.TraceID,
		UserID:  rec.UserID,
		Number:  rec.Number,
		Stage:   string(rec.Stage),
		Record:  data,
	})
	if err != nil {
		return fmt.Errorf("pipeline: checkpoint %s: %w", rec.TraceID, err)
	}
	return nil
}

// lastFeedback returns the feedback of the latest validation when it
// carries verdict v.
func lastFeedback(rec *turn.Record, v turn.Verdict) string {
	if len(rec.Validations) == 0 {
		return ""
	}
	last := rec.Validations[len(rec.Validations)-1]
	if last.Verdict != v {
		return ""
	}
	if last.Feedback == "" {
		return strings.Join(last.Reasons, "; ")
	}
	return last.Feedback
}

// excludeTurn drops the current turn from the window, which can appear
// when a resumed turn had already been saved.
func excludeTurn(window []memory.TurnEntry, number int64, max int) []memory.TurnEntry {
	out := window[:0]
	for _, e := range window {
		if e.Number != number {
			out = append(out, e)
		}
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// toolObserver forwards executor notifications as progress events.
type toolObserver struct {
	sink progress.Sink
}

func (o toolObserver) ToolStarted(call turn.Call) {
	o.sink.Emit(progress.Event{
		Kind:   progress.KindToolStarted,
		Stage:  string(turn.StagePlanned),
		Detail: map[string]any{"tool": call.Tool, "goal": call.GoalID, "call_id": call.ID, "attempt": call.Attempt},
		At:     timeNow().UTC(),
	})
}

func (o toolObserver) ToolFinished(res turn.Result) {
	status := "ok"
	if !res.Success {
		status = string(res.ErrorCode)
	}
	o.sink.Emit(progress.Event{
		Kind:   progress.KindToolFinished,
		Stage:  string(turn.StagePlanned),
		Status: status,
		Detail: map[string]any{"tool": res.Tool, "goal": res.GoalID, "call_id": res.CallID, "elapsed_ms": res.Elapsed.Milliseconds()},
		At:     timeNow().UTC(),
	})
}
