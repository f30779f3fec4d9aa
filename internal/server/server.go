// Package server wires all components and creates the MCP server.
//
// This is the composition root: it creates concrete implementations and
// injects them into the pipeline stages, the job layer and the tools that
// depend on abstractions. No business logic lives here, only wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/HendryAvila/turnloop/internal/archiver"
	"github.com/HendryAvila/turnloop/internal/assembler"
	"github.com/HendryAvila/turnloop/internal/config"
	"github.com/HendryAvila/turnloop/internal/gate"
	"github.com/HendryAvila/turnloop/internal/httpapi"
	"github.com/HendryAvila/turnloop/internal/jobs"
	"github.com/HendryAvila/turnloop/internal/jobtools"
	"github.com/HendryAvila/turnloop/internal/memory"
	"github.com/HendryAvila/turnloop/internal/memtools"
	"github.com/HendryAvila/turnloop/internal/pipeline"
	"github.com/HendryAvila/turnloop/internal/planner"
	"github.com/HendryAvila/turnloop/internal/progress"
	"github.com/HendryAvila/turnloop/internal/prompts"
	"github.com/HendryAvila/turnloop/internal/resources"
	"github.com/HendryAvila/turnloop/internal/resolver"
	"github.com/HendryAvila/turnloop/internal/synth"
	"github.com/HendryAvila/turnloop/internal/tools"
	"github.com/HendryAvila/turnloop/internal/validate"
)

// Version is set at build time via ldflags.
var Version = "dev"

// App holds the wired components of one process.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    *memory.Store
	Registry *tools.Registry
	Runner   *pipeline.Runner
	Archiver *archiver.Archiver
	Bus      *progress.Bus
	Jobs     *jobs.Manager
}

// New creates the store, the tool registry, the pipeline and the job
// manager from cfg. Close releases them.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := memory.New(memory.Config{
		DataDir:          cfg.DataDir,
		MaxContentLength: cfg.Store.MaxContentLength,
		MaxSearchResults: cfg.Store.MaxSearchResults,
		PromoteAfter:     cfg.Store.PromoteAfter,
		DemoteAfter:      cfg.Store.DemoteAfter,
	})
	if err != nil {
		return nil, fmt.Errorf("opening document store: %w", err)
	}

	reg, err := newRegistry(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	exec := tools.NewExecutor(reg,
		tools.Policy{Allow: cfg.Tools.Allow, Deny: cfg.Tools.Deny, Paths: cfg.Tools.Paths},
		tools.WithDefaultTimeout(cfg.Tools.Timeout),
		tools.WithMaxParallel(cfg.Tools.MaxParallel),
		tools.WithLogger(logger),
	)

	arch := archiver.New(store, cfg.Store.ArchiveAfter, logger)
	runner := pipeline.New(store, pipeline.Stages{
		Resolver: resolver.New(),
		Gate:     gate.New(),
		Assembler: assembler.New(store, assembler.Config{
			BudgetTokens:      cfg.Pipeline.ContextBudgetTokens,
			MaxResults:        cfg.Pipeline.ContextResults,
			SufficientQuality: cfg.Pipeline.SufficientQuality,
		}, logger),
		Planner: planner.NewCoordinator(planner.NewRuleStrategy(), exec, planner.Config{
			MaxIterations: cfg.Pipeline.MaxIterations,
			MaxAttempts:   cfg.Pipeline.MaxAttempts,
		}, logger),
		Synthesizer: synth.New(synth.Config{
			MaxItems: cfg.Pipeline.MaxCitations,
			MaxChars: cfg.Pipeline.MaxAnswerChars,
		}, logger),
		Validator: validate.New(validate.Config{
			MaxRetries:   cfg.Pipeline.MaxRetries,
			MaxRevisions: cfg.Pipeline.MaxRevisions,
		}, logger),
		Archiver: arch,
	}, pipeline.Config{WindowSize: cfg.Pipeline.WindowSize}, logger)

	bus := progress.NewBus(cfg.Jobs.EventBuffer, logger)
	mgr := jobs.New(runner, bus, jobs.Config{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		Retention:     cfg.Jobs.Retention,
		Timeout:       cfg.Jobs.Timeout,
	}, logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Registry: reg,
		Runner:   runner,
		Archiver: arch,
		Bus:      bus,
		Jobs:     mgr,
	}, nil
}

// newRegistry registers the built-in tools. web_search is always present;
// without a configured endpoint it fails with dependency_missing.
func newRegistry(cfg *config.Config) (*tools.Registry, error) {
	if err := os.MkdirAll(cfg.Tools.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating tool workspace: %w", err)
	}

	var searcher tools.Searcher
	if cfg.Search.Endpoint != "" {
		searcher = tools.NewHTTPSearcher(cfg.Search.Endpoint, cfg.Search.APIKey, cfg.Search.Timeout)
	}

	reg := tools.NewRegistry()
	regs := []struct {
		tool tools.Tool
		opts []tools.Option
	}{
		{tools.NewWebSearchTool(searcher), []tools.Option{tools.WithTimeout(cfg.Search.Timeout)}},
		{tools.NewFileReadTool(cfg.Tools.Root), nil},
		{tools.NewFileWriteTool(cfg.Tools.Root), []tools.Option{tools.Mutating()}},
		{tools.NewCodeEvalTool(cfg.Tools.EvalPackages), nil},
	}
	for _, r := range regs {
		if err := reg.Register(r.tool, r.opts...); err != nil {
			return nil, fmt.Errorf("registering tool: %w", err)
		}
	}
	return reg, nil
}

// MCP creates the MCP server exposing the job and memory tools.
func (a *App) MCP() *server.MCPServer {
	s := server.NewMCPServer(
		"turnloop",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)
	for _, t := range a.mcpTools() {
		s.AddTool(t.Definition(), t.Handle)
	}

	// --- Prompts ---
	askPrompt := prompts.NewAskPrompt()
	s.AddPrompt(askPrompt.Definition(), askPrompt.Handle)

	historyPrompt := prompts.NewHistoryPrompt()
	s.AddPrompt(historyPrompt.Definition(), historyPrompt.Handle)

	// --- Resources ---
	res := resources.NewHandler(a.Store)
	s.AddResource(res.StatsResource(), res.HandleStats)
	s.AddResourceTemplate(res.TurnTemplate(), res.HandleTurn)

	return s
}

// mcpTools lists the tools the MCP server registers.
func (a *App) mcpTools() []tools.Tool {
	return []tools.Tool{
		// --- Turns ---
		jobtools.NewSubmitTool(a.Jobs),
		jobtools.NewResumeTool(a.Jobs),
		jobtools.NewPollTool(a.Jobs),
		jobtools.NewCancelTool(a.Jobs),

		// --- Memory ---
		memtools.NewSaveTool(a.Store),
		memtools.NewSearchTool(a.Store),
		memtools.NewGetTool(a.Store),
		memtools.NewStatsTool(a.Store),
		memtools.NewHistoryTool(a.Store),
	}
}

// HTTP creates the HTTP API over the job manager.
func (a *App) HTTP() *httpapi.Server {
	return httpapi.New(a.Config.HTTP, a.Jobs, a.Logger)
}

// Close stops running jobs and closes the bus and the store.
func (a *App) Close() error {
	a.Jobs.Close()
	return errors.Join(a.Bus.Close(), a.Store.Close())
}

// Shutdown is Close honoring ctx: if jobs do not stop before ctx is done
// it returns ctx.Err() and leaves the close running.
func (a *App) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- a.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serverInstructions returns the system instructions that tell the AI
// how to use turnloop.
func serverInstructions() string {
	return `turnloop answers questions by planning tool calls, checking the answer against the evidence, and remembering what worked.

## Asking

1. Call turn_submit with user_id and query. It returns a job_id at once.
2. Call turn_poll with the job_id until status is not "running".
3. Read the result:
   - outcome "approved": answer holds the answer with [n] citations and a Sources list.
   - outcome "clarify": question asks the user for the missing detail. Submit the user's reply as a new turn.
   - outcome "failed": error says why no verified answer could be given.

Use mode "read_write" only when the user asked for files to be written.

## Follow-ups

Turns of the same user_id share a conversation window. "what about the cheaper one?" is resolved against the previous turns, so always pass the same user_id for one conversation.

## Cancelling

turn_cancel stops a running turn. turn_resume continues it from its last completed stage.

## Memory

- mem_search finds stored documents; mem_get shows one in full.
- mem_save stores a document the user wants remembered.
- mem_stats and turn_history show what has been stored and asked.
- turnloop://turns/{user_id}/{number} returns a finished turn with its plans, claims and validations.`
}
