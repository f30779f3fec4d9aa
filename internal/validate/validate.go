// Package validate decides whether a synthesized answer is released.
package validate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/HendryAvila/turnloop/internal/synth"
	"github.com/HendryAvila/turnloop/internal/turn"
)

// Config holds the loop budgets.
type Config struct {
	MaxRetries   int
	MaxRevisions int
}

// DefaultConfig returns the default budgets.
func DefaultConfig() Config {
	return Config{MaxRetries: 2, MaxRevisions: 2}
}

// Validator checks the latest answer of a record.
type Validator struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Validator.
func New(cfg Config, logger *zap.Logger) *Validator {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxRevisions < 0 {
		cfg.MaxRevisions = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{cfg: cfg, logger: logger.Named("validate")}
}

// unanswerable error codes mean another research pass cannot help.
var unanswerable = map[turn.ErrorCode]bool{
	turn.ErrCodePermissionDenied: true,
	turn.ErrCodeSandboxViolation: true,
	turn.ErrCodeInvalidArgs:      true,
}

// Validate returns the verdict for the latest answer in rec.
//
// Missing evidence asks for a retry, answer defects ask for a revision,
// and either falls back to FAIL once its budget is spent.
func (v *Validator) Validate(ctx context.Context, rec *turn.Record) (turn.Validation, error) {
	if err := ctx.Err(); err != nil {
		return turn.Validation{}, err
	}
	out := turn.Validation{Retries: rec.Retries(), Revisions: rec.Revisions()}

	ans := rec.LatestAnswer()
	if ans == nil {
		out.Verdict = turn.VerdictFail
		out.Reasons = []string{"no answer was synthesized"}
		return v.done(rec, out), nil
	}

	if reason, ok := blockedByPolicy(rec); ok {
		out.Verdict = turn.VerdictFail
		out.Reasons = []string{reason}
		return v.done(rec, out), nil
	}

	if c, ok := ans.Check(synth.CheckCoverage); !ok || !c.Passed {
		detail := "intent not covered"
		if ok && c.Detail != "" {
			detail = "intent not covered: " + c.Detail
		}
		out.Reasons = []string{detail}
		if out.Retries >= v.cfg.MaxRetries {
			out.Verdict = turn.VerdictFail
			out.Reasons = append(out.Reasons, fmt.Sprintf("retry budget of %d spent", v.cfg.MaxRetries))
		} else {
			out.Verdict = turn.VerdictRetry
			out.Feedback = "gather more evidence: " + detail
		}
		return v.done(rec, out), nil
	}

	var defects []string
	for _, c := range ans.Checklist {
		if c.Name == synth.CheckCoverage || c.Passed {
			continue
		}
		if c.Detail != "" {
			defects = append(defects, c.Name+": "+c.Detail)
		} else {
			defects = append(defects, c.Name)
		}
	}
	if len(defects) > 0 {
		out.Reasons = defects
		if out.Revisions >= v.cfg.MaxRevisions {
			out.Verdict = turn.VerdictFail
			out.Reasons = append(out.Reasons, fmt.Sprintf("revision budget of %d spent", v.cfg.MaxRevisions))
		} else {
			out.Verdict = turn.VerdictRevise
			out.Feedback = "fix: " + strings.Join(defects, "; ")
		}
		return v.done(rec, out), nil
	}

	out.Verdict = turn.VerdictApprove
	return v.done(rec, out), nil
}

func (v *Validator) done(rec *turn.Record, out turn.Validation) turn.Validation {
	v.logger.Info("answer validated",
		zap.String("trace_id", rec.TraceID),
		zap.String("verdict", string(out.Verdict)),
		zap.Strings("reasons", out.Reasons),
		zap.Int("retries", out.Retries),
		zap.Int("revisions", out.Revisions),
	)
	return out
}

// blockedByPolicy reports whether every tool call of the turn failed for
// a reason no retry can change.
func blockedByPolicy(rec *turn.Record) (string, bool) {
	n := 0
	var code turn.ErrorCode
	for _, p := range rec.Plans {
		for _, r := range p.Results {
			if r.Success || !unanswerable[r.ErrorCode] {
				return "", false
			}
			n++
			code = r.ErrorCode
		}
	}
	if n == 0 {
		return "", false
	}
	return fmt.Sprintf("every tool call failed with %s", code), true
}
