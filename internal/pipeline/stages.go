package pipeline

import (
	"context"

	"github.com/HendryAvila/turnloop/internal/archiver"
	"github.com/HendryAvila/turnloop/internal/memory"
	"github.com/HendryAvila/turnloop/internal/tools"
	"github.com/HendryAvila/turnloop/internal/turn"
)

// Resolver rewrites the raw query against the recent turn window.
type Resolver interface {
	Resolve(ctx context.Context, query string, window []memory.TurnEntry) (turn.Resolution, error)
}

// Gate decides whether the turn proceeds or asks for clarification.
type Gate interface {
	Admit(ctx context.Context, res turn.Resolution) (turn.Admission, error)
}

// Assembler builds the context bundle.
type Assembler interface {
	Assemble(ctx context.Context, userID string, res turn.Resolution) (*turn.Bundle, error)
}

// Planner runs one planning attempt.
type Planner interface {
	Run(ctx context.Context, rec *turn.Record, feedback string, obs tools.Observer) (turn.Plan, error)
}

// Synthesizer writes one answer attempt.
type Synthesizer interface {
	Synthesize(ctx context.Context, rec *turn.Record, feedback string) (turn.Answer, error)
}

// Validator judges the latest answer.
type Validator interface {
	Validate(ctx context.Context, rec *turn.Record) (turn.Validation, error)
}

// Archiver persists a sealed turn.
type Archiver interface {
	Archive(ctx context.Context, rec *turn.Record) (archiver.Report, error)
}

// Store is the part of the document store the runner uses directly.
type Store interface {
	NextTurnNumber(ctx context.Context, userID string) (int64, error)
	RecentTurns(ctx context.Context, userID string, limit int) ([]memory.TurnEntry, error)
	SaveCheckpoint(ctx context.Context, cp memory.Checkpoint) error
	LoadCheckpoint(ctx context.Context, traceID string) (*memory.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, traceID string) error
}

// Stages are the components a turn moves through, in order.
type Stages struct {
	Resolver    Resolver
	Gate        Gate
	Assembler   Assembler
	Planner     Planner
	Synthesizer Synthesizer
	Validator   Validator
	Archiver    Archiver
}
