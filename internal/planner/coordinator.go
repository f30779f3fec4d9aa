// Package planner implements the Planner/Coordinator loop: it routes the
// turn, decomposes it into goals, runs tool calls through the executor,
// extracts claims and stages memory candidates.
//
// Retry policy lives here. A failed or empty tool result is retried with
// a reformulated call until the goal's attempt budget is spent, then the
// goal is marked blocked and the turn carries on with what it has.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/HendryAvila/turnloop/internal/memory"
	"github.com/HendryAvila/turnloop/internal/resolver"
	"github.com/HendryAvila/turnloop/internal/tools"
	"github.com/HendryAvila/turnloop/internal/turn"
)

// ErrNoProgress is returned when the iteration budget runs out before any
// goal completed.
var ErrNoProgress = errors.New("planner: iteration budget exhausted with no completed goal")

// Executor runs tool calls.
type Executor interface {
	ExecuteBatch(ctx context.Context, mode turn.Mode, calls []turn.Call, obs tools.Observer) []turn.Result
}

// Config bounds the loop.
type Config struct {
	MaxIterations int
	MaxAttempts   int
}

// DefaultConfig returns the default loop bounds.
func DefaultConfig() Config {
	return Config{MaxIterations: 6, MaxAttempts: 3}
}

// Coordinator runs planning attempts.
type Coordinator struct {
	strategy  Strategy
	exec      Executor
	extractor *Extractor
	cfg       Config
	logger    *zap.Logger
}

// NewCoordinator creates a Coordinator. A nil logger is replaced with a
// no-op.
func NewCoordinator(strategy Strategy, exec Executor, cfg Config, logger *zap.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		strategy:  strategy,
		exec:      exec,
		extractor: NewExtractor(),
		cfg:       cfg,
		logger:    logger.Named("planner"),
	}
}

// Run performs one planning attempt for rec and returns its plan. The
// plan is returned even with an error so the caller can record it.
// feedback is the Validator's reasoning when this attempt is a retry.
func (c *Coordinator) Run(ctx context.Context, rec *turn.Record, feedback string, obs tools.Observer) (turn.Plan, error) {
	ctx, span := otel.Tracer("turnloop/planner").Start(ctx, "planner.run")
	defer span.End()

	plan := turn.Plan{Attempt: len(rec.Plans) + 1, Feedback: feedback}
	span.SetAttributes(attribute.Int("plan.attempt", plan.Attempt))
	log := c.logger.With(zap.String("trace_id", rec.TraceID), zap.Int("attempt", plan.Attempt))

	if feedback != "" {
		plan.Route = turn.RouteCoordinator
		plan.Reason = "retry: " + feedback
	} else {
		route, reason, err := c.strategy.Route(ctx, rec)
		if err != nil {
			return plan, fmt.Errorf("planner: route: %w", err)
		}
		if err := turn.ValidateRoute(route); err != nil {
			return plan, fmt.Errorf("planner: %w", err)
		}
		plan.Route, plan.Reason = route, reason
	}
	span.SetAttributes(attribute.String("plan.route", string(plan.Route)))
	if plan.Route != turn.RouteCoordinator {
		log.Debug("no tools needed", zap.String("route", string(plan.Route)))
		return plan, nil
	}

	goals, err := c.goals(ctx, rec, feedback)
	if err != nil {
		return plan, err
	}
	plan.Goals = goals

	exhausted, err := c.loop(ctx, rec, &plan, obs)
	if err != nil {
		return plan, err
	}

	completed := turn.CountStatus(plan.Goals, turn.GoalCompleted)
	plan.Candidates = c.candidates(rec, &plan)
	log.Debug("planning finished",
		zap.Int("iterations", plan.Iterations),
		zap.Int("completed", completed),
		zap.Int("blocked", turn.CountStatus(plan.Goals, turn.GoalBlocked)),
		zap.Int("claims", len(plan.Claims)),
	)
	if exhausted && completed == 0 {
		plan.Error = ErrNoProgress.Error()
		return plan, ErrNoProgress
	}
	return plan, nil
}

// goals returns a fresh decomposition, or on retry the previous plan's
// goals with blocked ones re-opened. When a retry re-opens nothing, one
// broader goal is added so the retry gathers new evidence.
func (c *Coordinator) goals(ctx context.Context, rec *turn.Record, feedback string) ([]turn.Goal, error) {
	prev := rec.LatestPlan()
	if feedback == "" || prev == nil || len(prev.Goals) == 0 {
		goals, err := c.strategy.Goals(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("planner: goals: %w", err)
		}
		return goals, nil
	}

	goals := make([]turn.Goal, len(prev.Goals))
	for i, g := range prev.Goals {
		g.DependsOn = append([]string(nil), g.DependsOn...)
		goals[i] = g
	}
	if len(turn.Reopen(goals)) == 0 {
		desc := rec.ResolvedQuery()
		if rec.Bundle != nil && len(rec.Bundle.Qualifiers) > 0 {
			desc += " " + strings.Join(rec.Bundle.Qualifiers, " ")
		}
		goals = append(goals, turn.Goal{
			ID:          fmt.Sprintf("g%d", len(goals)+1),
			Description: desc,
			Status:      turn.GoalPending,
		})
	}
	return goals, nil
}

// loop runs iterations until every goal settles or the budget runs out.
// It reports whether the budget ran out.
func (c *Coordinator) loop(ctx context.Context, rec *turn.Record, plan *turn.Plan, obs tools.Observer) (bool, error) {
	goals := plan.Goals
	for plan.Iterations < c.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		// Goals behind a stuck dependency cannot start this cycle.
		for i := range goals {
			if goals[i].Status == turn.GoalPending && turn.DependencyStuck(goals[i], goals) {
				goals[i].Status = turn.GoalBlocked
				goals[i].LastError = "a dependency is blocked or failed"
			}
		}

		var calls []turn.Call
		for i := range goals {
			g := &goals[i]
			if g.Status == turn.GoalPending && turn.DependenciesMet(*g, goals) {
				if err := turn.Transition(goals, g.ID, turn.GoalInProgress); err != nil {
					return false, fmt.Errorf("planner: %w", err)
				}
			}
			if g.Status != turn.GoalInProgress {
				continue
			}
			g.Attempts++
			call, err := c.strategy.Call(ctx, rec, *g, g.Attempts)
			if err != nil {
				return false, fmt.Errorf("planner: call for goal %s: %w", g.ID, err)
			}
			call.GoalID, call.Attempt = g.ID, g.Attempts
			calls = append(calls, call)
		}
		if len(calls) == 0 {
			return false, nil
		}

		plan.Iterations++
		results := c.exec.ExecuteBatch(ctx, rec.Mode, calls, obs)
		for i, res := range results {
			call := calls[i]
			call.ID = res.CallID
			plan.Calls = append(plan.Calls, call)
			plan.Results = append(plan.Results, res)

			if res.ErrorCode == turn.ErrCodeCancelled && ctx.Err() != nil {
				return false, ctx.Err()
			}
			claims := c.extractor.Extract(call, res)
			g := &goals[turn.FindGoal(goals, call.GoalID)]
			if len(claims) > 0 {
				plan.Claims = append(plan.Claims, claims...)
				g.LastError = ""
				if err := turn.Transition(goals, g.ID, turn.GoalCompleted); err != nil {
					return false, fmt.Errorf("planner: %w", err)
				}
				continue
			}

			g.LastError = "empty result"
			if !res.Success {
				g.LastError = fmt.Sprintf("%s: %s", res.ErrorCode, res.ErrorMessage)
			}
			if g.Attempts >= c.cfg.MaxAttempts {
				if err := turn.Transition(goals, g.ID, turn.GoalBlocked); err != nil {
					return false, fmt.Errorf("planner: %w", err)
				}
			}
		}
		if turn.Settled(goals) {
			return false, nil
		}
	}

	if turn.Settled(goals) {
		return false, nil
	}
	for i := range goals {
		if !goals[i].Status.IsTerminal() {
			goals[i].Status = turn.GoalFailed
			goals[i].LastError = "iteration budget exhausted"
		}
	}
	return true, nil
}

// candidates stages one evidence document per completed goal. IDs are
// deterministic so a resumed turn stages the same candidates. Tool
// reliability is tallied by the archiver, not staged here.
func (c *Coordinator) candidates(rec *turn.Record, plan *turn.Plan) []turn.MemoryCandidate {
	var out []turn.MemoryCandidate

	byGoal := map[string][]turn.Claim{}
	for _, cl := range plan.Claims {
		byGoal[cl.GoalID] = append(byGoal[cl.GoalID], cl)
	}
	for _, g := range plan.Goals {
		claims := byGoal[g.ID]
		if g.Status != turn.GoalCompleted || len(claims) == 0 {
			continue
		}
		var (
			b       strings.Builder
			ids     []string
			sum     float64
			expires time.Time
		)
		fmt.Fprintf(&b, "%s\n", g.Description)
		for _, cl := range claims {
			fmt.Fprintf(&b, "- %s (%s)\n", cl.Statement, cl.Source)
			ids = append(ids, cl.ID)
			sum += cl.Confidence
			if exp := cl.ExpiresAt(); expires.IsZero() || exp.Before(expires) {
				expires = exp
			}
		}
		words := resolver.ContentWords(g.Description)
		if len(words) > 4 {
			words = words[:4]
		}
		out = append(out, turn.MemoryCandidate{
			ID:           fmt.Sprintf("%s-p%d-%s", rec.TraceID, plan.Attempt, g.ID),
			GoalID:       g.ID,
			Topic:        "research/" + strings.Join(words, "-"),
			Keywords:     words,
			Purpose:      "evidence for: " + g.Description,
			Content:      strings.TrimSpace(b.String()),
			ContentTypes: []string{string(memory.ContentEvidence), string(memory.ContentResearch)},
			Quality:      sum / float64(len(claims)),
			ExpiresAt:    &expires,
			ClaimIDs:     ids,
		})
	}

	return out
}
